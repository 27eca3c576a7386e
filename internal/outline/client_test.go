package outline

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// newTestClient はhttptestサーバーに向けたクライアントを生成する。
// SSRF防止クライアントはループバックを遮断するため、テストでは素のクライアントを使う。
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	return NewClient(srv.Client(), newTestLogger(&buf), srv.URL+"/", "test-token")
}

func TestClient_ListGroups_WrappedFormat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups.list" || r.Method != http.MethodPost {
			t.Errorf("予期しないリクエスト: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want Bearer test-token", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"data": map[string]any{
				"groups": []map[string]any{
					{"id": "g1", "name": "E-Bike", "memberCount": 3},
				},
			},
		})
	})

	groups, err := c.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups() がエラーを返した: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g1" || groups[0].Name != "E-Bike" || groups[0].MemberCount != 3 {
		t.Errorf("groups = %+v", groups)
	}
}

func TestClient_ListGroups_ArrayFormat(t *testing.T) {
	// 旧バージョンのAPIはdataに配列を直接返す
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"data": []map[string]any{
				{"id": "g1", "name": "E-Bike"},
			},
		})
	})

	groups, err := c.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups() がエラーを返した: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "E-Bike" {
		t.Errorf("groups = %+v", groups)
	}
}

func TestClient_CreateGroup_ConflictReturnsExisting(t *testing.T) {
	// 作成が失敗しても同名グループが既に存在すれば成功として扱う
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/groups.create":
			http.Error(w, `{"error":"validation_error"}`, http.StatusBadRequest)
		case "/groups.list":
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"data": map[string]any{
					"groups": []map[string]any{
						{"id": "g1", "name": "e-bike"},
					},
				},
			})
		default:
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
	})

	g, err := c.CreateGroup(context.Background(), "E-Bike", "")
	if err != nil {
		t.Fatalf("既存グループがある場合は成功を返すべき: %v", err)
	}
	if g.ID != "g1" {
		t.Errorf("g = %+v, 既存グループが返るべき", g)
	}
}

func TestClient_CreateGroup_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "E-Bike" {
			t.Errorf("name = %v, want E-Bike", body["name"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"data": map[string]any{"id": "g-new", "name": "E-Bike"},
		})
	})

	g, err := c.CreateGroup(context.Background(), "E-Bike", "desc")
	if err != nil {
		t.Fatalf("CreateGroup() がエラーを返した: %v", err)
	}
	if g.ID != "g-new" {
		t.Errorf("g = %+v", g)
	}
}

func TestClient_GroupMembers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "g1" {
			t.Errorf("id = %v, want g1", body["id"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"data": map[string]any{
				"users": []map[string]any{
					{"id": "u1", "name": "Alice", "email": "alice@example.com"},
				},
			},
		})
	})

	users, err := c.GroupMembers(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GroupMembers() がエラーを返した: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u1" || users[0].Email != "alice@example.com" {
		t.Errorf("users = %+v", users)
	}
}

func TestClient_AddMember_SendsGroupAndUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/groups.add_user" {
			t.Errorf("予期しないパス: %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["id"] != "g1" || body["userId"] != "u1" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": map[string]any{}})
	})

	if err := c.AddMember(context.Background(), "g1", "u1"); err != nil {
		t.Fatalf("AddMember() がエラーを返した: %v", err)
	}
}

func TestClient_ListUsers_Paginates(t *testing.T) {
	// 1ページ目は上限いっぱい、2ページ目で打ち切り
	page1 := make([]map[string]any, listPageSize)
	for i := range page1 {
		page1[i] = map[string]any{"id": "u", "name": "user"}
	}

	var offsets []float64
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		offset := body["offset"].(float64)
		offsets = append(offsets, offset)

		data := page1
		if offset > 0 {
			data = []map[string]any{{"id": "u-last", "name": "last"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "data": data})
	})

	users, err := c.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers() がエラーを返した: %v", err)
	}
	if len(users) != listPageSize+1 {
		t.Errorf("ユーザー数 = %d, want %d", len(users), listPageSize+1)
	}
	if len(offsets) != 2 || offsets[1] != float64(listPageSize) {
		t.Errorf("offsets = %v, 2ページ目のoffsetは%dであるべき", offsets, listPageSize)
	}
}
