package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubnet(t *testing.T) {
	tests := []struct {
		address string
		netmask int
		want    string
	}{
		{"10.11.12.13", 32, "10.11.12.13/32"},
		{"10.11.12.13", 24, "10.11.12.0/24"},
		{"10.11.12.13", 8, "10.0.0.0/8"},
		{"10.11.12.13", 0, "0.0.0.0/0"},
		{"2000:dead:beef:4dad:29:96:cc:191", 128, "2000:dead:beef:4dad:29:96:cc:191/128"},
		{"2000:dead:beef:4dad:29:96:cc:191", 64, "2000:dead:beef:4dad::/64"},
		{"2000:dead:beef:4dad:29:96:cc:191", 48, "2000:dead:beef::/48"},
	}
	for _, tt := range tests {
		got, err := Subnet(tt.address, tt.netmask)
		require.NoError(t, err, "%s/%d", tt.address, tt.netmask)
		assert.Equal(t, tt.want, got)
	}
}

func TestSubnetInvalid(t *testing.T) {
	_, err := Subnet("example.com", 32)
	assert.Error(t, err)

	_, err = Subnet("10.11.12.13", 33)
	assert.Error(t, err)

	_, err = Subnet("10.11.12.13", -1)
	assert.Error(t, err)
}

func TestSubnetForRuleDefaults(t *testing.T) {
	got, err := subnetForRule("10.11.12.13", Rule{})
	require.NoError(t, err)
	assert.Equal(t, "10.11.12.13/32", got)

	got, err = subnetForRule("2000:dead:beef:4dad:29:96:cc:191", Rule{})
	require.NoError(t, err)
	assert.Equal(t, "2000:dead:beef::/48", got)

	mask := 24
	got, err = subnetForRule("10.11.12.13", Rule{NetmaskIPv4: &mask})
	require.NoError(t, err)
	assert.Equal(t, "10.11.12.0/24", got)
}
