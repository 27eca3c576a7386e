package model

import "testing"

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in     string
		want   Status
		wantOK bool
	}{
		{"Incoming", StatusIncoming, true},
		{"Active", StatusActive, true},
		{"Previous", StatusPrevious, true},
		{"active", StatusNone, false},
		{"Alumni", StatusNone, false},
		{"", StatusNone, false},
	}
	for _, c := range cases {
		got, ok := ParseStatus(c.in)
		if got != c.want || ok != c.wantOK {
			t.Errorf("ParseStatus(%q) = (%q, %t), want (%q, %t)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestMember_CurrentStatus(t *testing.T) {
	m := Member{Username: "alice", Roles: []string{"E-Bike", "Active"}}
	if got := m.CurrentStatus(); got != StatusActive {
		t.Errorf("CurrentStatus() = %q, want Active", got)
	}
}

func TestMember_CurrentStatus_NoStatusRole(t *testing.T) {
	m := Member{Username: "bob", Roles: []string{"E-Bike"}}
	if got := m.CurrentStatus(); got != StatusNone {
		t.Errorf("CurrentStatus() = %q, want 未設定", got)
	}
}

func TestMember_CurrentStatus_PrefersEarlierTier(t *testing.T) {
	// 複数のステータスロールを持つ場合は進行順で先のものを返す
	m := Member{Username: "carol", Roles: []string{"Previous", "Incoming"}}
	if got := m.CurrentStatus(); got != StatusIncoming {
		t.Errorf("CurrentStatus() = %q, want Incoming", got)
	}
}

func TestMember_HasRole(t *testing.T) {
	m := Member{Roles: []string{"E-Bike"}}
	if !m.HasRole("E-Bike") {
		t.Error("保持しているロールがfalseになった")
	}
	if m.HasRole("e-bike") {
		t.Error("ロール名の照合は大文字小文字を区別すべき")
	}
}
