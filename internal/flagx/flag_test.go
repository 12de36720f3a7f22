package flagx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	agentFlags := []string{"-d", "-a", "-diag"}

	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate value",
			args:    []string{"-d", "/var/lib/fieldsync/db", "-x", "1"},
			allowed: agentFlags,
			want:    []string{"-d", "/var/lib/fieldsync/db"},
		},
		{
			name:    "joined value",
			args:    []string{"-a=https://api.example", "-c", "agent.json"},
			allowed: agentFlags,
			want:    []string{"-a=https://api.example"},
		},
		{
			name:    "order preserved across forms",
			args:    []string{"-diag=:9100", "-a", "https://api.example", "positional"},
			allowed: agentFlags,
			want:    []string{"-diag=:9100", "-a", "https://api.example"},
		},
		{
			name:    "nothing allowed matches",
			args:    []string{"-c", "agent.json", "--token=t"},
			allowed: agentFlags,
			want:    []string{},
		},
		{
			name:    "trailing flag without value",
			args:    []string{"-d"},
			allowed: agentFlags,
			want:    []string{"-d"},
		},
		{
			name:    "dash-prefixed token is not a value",
			args:    []string{"-a", "-d", "x.db"},
			allowed: agentFlags,
			want:    []string{"-a", "-d", "x.db"},
		},
		{
			name:    "joined value may start with a dash",
			args:    []string{"--config=--odd.json"},
			allowed: []string{"--config"},
			want:    []string{"--config=--odd.json"},
		},
		{
			name:    "repeats kept",
			args:    []string{"-d", "one.db", "-d", "two.db"},
			allowed: agentFlags,
			want:    []string{"-d", "one.db", "-d", "two.db"},
		},
		{
			name:    "empty",
			args:    nil,
			allowed: agentFlags,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	assert.Equal(t, "agent.json", ConfigFileFlag([]string{"-c", "agent.json"}))
	assert.Equal(t, "/etc/fieldsync.json", ConfigFileFlag([]string{"--config=/etc/fieldsync.json"}))
	assert.Equal(t, "b.json", ConfigFileFlag([]string{"-c", "a.json", "-d", "x.db", "-config", "b.json"}), "last wins")
	assert.Empty(t, ConfigFileFlag([]string{"-d", "x.db"}))
}

func TestEnvFileFlag(t *testing.T) {
	assert.Equal(t, ".env.device", EnvFileFlag([]string{"-c", "a.json", "-env", ".env.device"}))
	assert.Empty(t, EnvFileFlag([]string{"-c", "a.json"}))
}

func TestStringFlag_MissingValueYieldsEmpty(t *testing.T) {
	assert.Empty(t, StringFlag([]string{"-token"}, "token"))
}
