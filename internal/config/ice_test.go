package config

import (
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478", "turns:turn.example.com:5349"], "username": "u", "credential": "c"}
	]`
	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Errorf("servers[0] = %+v", servers[0])
	}
	if servers[1].Username != "u" {
		t.Errorf("servers[1].Username = %q", servers[1].Username)
	}
	cred, _ := servers[1].Credential.(string)
	if cred != "c" {
		t.Errorf("servers[1].Credential = %v", servers[1].Credential)
	}
}

func TestParseICEServersJSONRejectsTurnWithoutCredentials(t *testing.T) {
	raw := `[{"urls": "turn:turn.example.com:3478"}]`
	if _, err := ParseICEServersJSON(raw); err == nil {
		t.Fatal("expected error for turn url without credentials")
	}
}

func TestParseICEServersJSONRejectsUnknownScheme(t *testing.T) {
	raw := `[{"urls": "https://example.com"}]`
	if _, err := ParseICEServersJSON(raw); err == nil {
		t.Fatal("expected error for non-ICE scheme")
	}
}

func TestParseICEServersFromConvenienceEnvStunOnly(t *testing.T) {
	servers, err := ParseICEServersFromConvenienceEnv("stun:a.example.com, stun:b.example.com", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 2 {
		t.Fatalf("servers = %+v", servers)
	}
}

func TestParseICEServersFromConvenienceEnvTurnNeedsBothCreds(t *testing.T) {
	if _, err := ParseICEServersFromConvenienceEnv("", "turn:t.example.com", "u", ""); err == nil {
		t.Fatal("expected error when credential is missing")
	}
	if _, err := ParseICEServersFromConvenienceEnv("", "turn:t.example.com", "", "c"); err == nil {
		t.Fatal("expected error when username is missing")
	}
}

func TestParseICEServersFromConvenienceEnvEmpty(t *testing.T) {
	servers, err := ParseICEServersFromConvenienceEnv("", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 0 {
		t.Fatalf("servers = %+v, want none", servers)
	}
}
