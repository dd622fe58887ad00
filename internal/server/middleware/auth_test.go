package middleware

import "testing"

func TestUserIDClaim(t *testing.T) {
	tests := []struct {
		name    string
		claim   any
		want    int32
		wantErr bool
	}{
		{"string", "17", 17, false},
		{"number", float64(17), 17, false},
		{"max int32", float64(2147483647), 2147483647, false},
		{"overflowing number", float64(2147483648), 0, true},
		{"overflowing string", "2147483648", 0, true},
		{"fraction", 1.5, 0, true},
		{"not a number", "abc", 0, true},
		{"missing", nil, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := userIDClaim(tc.claim)
			if (err != nil) != tc.wantErr {
				t.Fatalf("userIDClaim(%v) error = %v, wantErr %v", tc.claim, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("userIDClaim(%v) = %d, want %d", tc.claim, got, tc.want)
			}
		})
	}
}

func TestHasAnyPermission(t *testing.T) {
	user := &AppUser{Permissions: []string{"graph.search"}}
	if !HasAnyPermission(user, "graph.write", "graph.search") {
		t.Fatalf("expected permission match")
	}
	if HasAnyPermission(user, "graph.write") || HasAnyPermission(nil, "graph.search") {
		t.Fatalf("unexpected permission match")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := bearerToken(tc.header)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("bearerToken(%q) = %q, %v", tc.header, got, ok)
		}
	}
}

func TestMasterUser(t *testing.T) {
	app := &App{MasterAPIKey: "k", MasterUserID: 9, MasterUserRole: "admin"}
	if u := masterUser(app, "k"); u == nil || u.UserID != 9 || len(u.Permissions) != len(allPermissions) {
		t.Fatalf("masterUser() = %+v", u)
	}
	if u := masterUser(app, "other"); u != nil {
		t.Fatalf("wrong key accepted")
	}
	if u := masterUser(&App{MasterAPIKey: "k"}, "k"); u != nil {
		t.Fatalf("incomplete master identity accepted")
	}
}
