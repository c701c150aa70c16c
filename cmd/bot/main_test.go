package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/marketbot/internal/template"
)

const wallet = "So11111111111111111111111111111111111111112"

func TestCheckTemplate(t *testing.T) {
	t.Parallel()

	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		text      string
		withImage bool
		wantErr   bool
		contains  []string
	}{
		{
			name:      "valid",
			text:      "@marketbot Q: Will it rain? CAT: weather END: 2031-01-01 WALLET: " + wallet,
			withImage: true,
			contains:  []string{"Template OK", "Will it rain?", "weather", "uma", wallet},
		},
		{
			name:     "missing image and question",
			text:     "CAT: weather END: 2031-01-01 WALLET: " + wallet,
			wantErr:  true,
			contains: []string{template.ErrQuestionRequired, template.ErrImageRequired},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			err := checkTemplate(&out, tt.text, tt.withImage, now)
			if tt.wantErr {
				require.ErrorIs(t, err, errTemplateInvalid)
			} else {
				require.NoError(t, err)
			}
			for _, s := range tt.contains {
				assert.Contains(t, out.String(), s)
			}
		})
	}
}

func TestCheckTemplateCommandReadsStdin(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader("Q: Will it snow? CAT: weather END: 2099-12-31 WALLET: " + wallet))
	root.SetArgs([]string{"check-template"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Will it snow?")
}

func TestCheckTemplateCommandFailsWithoutImage(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"check-template", "--with-image=false", "Q: x CAT: y END: 2099-12-31 WALLET: " + wallet})

	require.Error(t, root.Execute())
	assert.Contains(t, out.String(), template.ErrImageRequired)
}

func TestSweepCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	state := filepath.Join(dir, "state.json")
	cfg := `
database:
  driver: json
  path: ` + state + `
twitter:
  consumer_key: ck
  consumer_secret: cs
  access_token: at
  access_secret: as
  bot_user_id: "42"
market:
  api_url: https://markets.example/api/create
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "sweep"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "Expired 0 conversation(s).\n", out.String())
}

func TestRootCommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "sweep", "check-template"}, names)

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, defaultConfigPath, flag.DefValue)
}
