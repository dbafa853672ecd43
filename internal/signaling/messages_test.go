package signaling

import (
	"testing"
)

func TestParseClientMessageAliases(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    clientMessage
		wantErr bool
	}{
		{
			name: "username wins over name",
			raw:  `{"type":"set_profile","name":"old","username":"new"}`,
			want: clientMessage{Type: "set_profile", Name: "new"},
		},
		{
			name: "name alone",
			raw:  `{"type":"set_name","name":"alice"}`,
			want: clientMessage{Type: "set_name", Name: "alice"},
		},
		{
			name: "profilePic wins over picture",
			raw:  `{"type":"set_profile","profilePic":"a.png","picture":"b.png"}`,
			want: clientMessage{Type: "set_profile", ProfilePic: "a.png"},
		},
		{
			name: "picture fallback",
			raw:  `{"type":"set_profile","picture":"b.png"}`,
			want: clientMessage{Type: "set_profile", ProfilePic: "b.png"},
		},
		{
			name: "targetId wins over to and target",
			raw:  `{"type":"offer","targetId":"x","to":"y","target":"z","sdp":{}}`,
			want: clientMessage{Type: "offer", TargetID: "x"},
		},
		{
			name: "to wins over target",
			raw:  `{"type":"offer","to":"y","target":"z","sdp":{}}`,
			want: clientMessage{Type: "offer", TargetID: "y"},
		},
		{
			name: "target fallback",
			raw:  `{"type":"candidate","target":"z","candidate":{}}`,
			want: clientMessage{Type: "candidate", TargetID: "z"},
		},
		{
			name: "unknown fields ignored",
			raw:  `{"type":"logout","extra":true,"nested":{"x":1}}`,
			want: clientMessage{Type: "logout"},
		},
		{
			name:    "missing type rejected",
			raw:     `{"name":"alice"}`,
			wantErr: true,
		},
		{
			name:    "not json rejected",
			raw:     `hello`,
			wantErr: true,
		},
		{
			name:    "json array rejected",
			raw:     `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClientMessage([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseClientMessage(%q) = %+v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseClientMessage(%q): %v", tt.raw, err)
			}
			if got.Type != tt.want.Type || got.Name != tt.want.Name ||
				got.ProfilePic != tt.want.ProfilePic || got.TargetID != tt.want.TargetID {
				t.Fatalf("parseClientMessage(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseClientMessageKeepsPayloadRaw(t *testing.T) {
	// Key order and whitespace inside sdp must survive the decode untouched.
	raw := `{"type":"offer","targetId":"t","sdp":{"z":1,"a":  "v=0"}}`
	msg, err := parseClientMessage([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"z":1,"a":  "v=0"}`
	if string(msg.SDP) != want {
		t.Fatalf("sdp = %q, want %q", msg.SDP, want)
	}
}
