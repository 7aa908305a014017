package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Credentials holds the secrets and connection settings that belong in
// the process environment rather than the hot-reloadable TriageConfig
// file: OAuth2 application registration for the mail capability, the
// Claude API key, the SQLite path, and the review surface's listen
// address.
type Credentials struct {
	GraphClientID      string
	GraphClientSecret  string
	GraphRefreshToken  string
	GraphAccessToken   string
	GraphUserPrincipal string

	ClaudeAPIKey string
	ClaudeModel  string

	DBPath          string
	ReviewAPIListen string
}

// LoadCredentials reads the TRIAGE_* secret env vars, following the
// same SetEnvPrefix/AutomaticEnv/explicit-bindings convention the
// teacher's email-config loader uses for its own vendor credentials.
func LoadCredentials(v *viper.Viper) (*Credentials, error) {
	v.SetEnvPrefix("TRIAGE")
	v.AutomaticEnv()

	v.SetDefault("graph.user_principal", "me")
	v.SetDefault("claude.model", "claude-3-5-sonnet-latest")
	v.SetDefault("db_path", "./triage-agent.db")
	v.SetDefault("reviewapi.listen", ":8090")

	bindings := map[string]string{
		"graph.client_id":      "TRIAGE_GRAPH_CLIENT_ID",
		"graph.client_secret":  "TRIAGE_GRAPH_CLIENT_SECRET",
		"graph.refresh_token":  "TRIAGE_GRAPH_REFRESH_TOKEN",
		"graph.access_token":   "TRIAGE_GRAPH_ACCESS_TOKEN",
		"graph.user_principal": "TRIAGE_GRAPH_USER_PRINCIPAL",
		"claude.api_key":       "TRIAGE_CLAUDE_API_KEY",
		"claude.model":         "TRIAGE_CLAUDE_MODEL",
		"db_path":              "TRIAGE_DB_PATH",
		"reviewapi.listen":     "TRIAGE_REVIEWAPI_LISTEN",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	creds := &Credentials{
		GraphClientID:      v.GetString("graph.client_id"),
		GraphClientSecret:  v.GetString("graph.client_secret"),
		GraphRefreshToken:  v.GetString("graph.refresh_token"),
		GraphAccessToken:   v.GetString("graph.access_token"),
		GraphUserPrincipal: v.GetString("graph.user_principal"),
		ClaudeAPIKey:       v.GetString("claude.api_key"),
		ClaudeModel:        v.GetString("claude.model"),
		DBPath:             v.GetString("db_path"),
		ReviewAPIListen:    v.GetString("reviewapi.listen"),
	}

	if creds.GraphClientID == "" || creds.GraphClientSecret == "" || creds.GraphRefreshToken == "" {
		return nil, fmt.Errorf("missing required Graph OAuth2 credentials (TRIAGE_GRAPH_CLIENT_ID / TRIAGE_GRAPH_CLIENT_SECRET / TRIAGE_GRAPH_REFRESH_TOKEN)")
	}
	if creds.ClaudeAPIKey == "" {
		return nil, fmt.Errorf("missing required Claude API key (TRIAGE_CLAUDE_API_KEY)")
	}

	return creds, nil
}

// graphRequestTimeout is the fixed per-request timeout the Graph
// adapter is built with; unlike the rest of Credentials this isn't
// environment-tunable since it governs transport behavior, not policy.
const graphRequestTimeout = 30 * time.Second

// GraphRequestTimeout exposes graphRequestTimeout to callers outside
// the package building a GraphConfig.
func GraphRequestTimeout() time.Duration { return graphRequestTimeout }
