package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/electrium-mobility/rolesync/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// newTestClient はhttptestサーバーに向けたクライアントを生成する。
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	c := NewClient(srv.Client(), newTestLogger(&buf), "sheet-1")
	c.baseURL = srv.URL
	return c
}

// sheetValues はテスト用のワークシート内容。
var sheetValues = [][]string{
	{"Discord Username", "Email", "Status", "Program"},
	{"alice", "alice@example.com", "Active", "MECH"},
	{"bob", "", "Incoming", ""},
}

func serveValues(t *testing.T, values [][]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("予期しないメソッド: %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{"values": values})
	}
}

func TestClient_Records_ParsesHeaderAndRows(t *testing.T) {
	c := newTestClient(t, serveValues(t, sheetValues))

	rows, err := c.Records(context.Background(), "Members")
	if err != nil {
		t.Fatalf("Records() がエラーを返した: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("行数 = %d, want 2", len(rows))
	}

	// 行番号はヘッダー行を含む1始まり
	if rows[0].Index != 2 || rows[1].Index != 3 {
		t.Errorf("行番号 = [%d %d], want [2 3]", rows[0].Index, rows[1].Index)
	}
	if rows[0].Username != "alice" || rows[0].Email != "alice@example.com" || rows[0].Status != "Active" {
		t.Errorf("1行目 = %+v", rows[0])
	}
	// 必須列以外はFieldsに保持される
	if rows[0].Fields["Program"] != "MECH" {
		t.Errorf("Fields = %v, Program列が保持されていない", rows[0].Fields)
	}
	if rows[1].Email != "" {
		t.Errorf("空セルのEmail = %q, want 空", rows[1].Email)
	}
}

func TestClient_Records_HeaderMatchIsCaseInsensitive(t *testing.T) {
	values := [][]string{
		{"DISCORD USERNAME", "status"},
		{"alice", "Active"},
	}
	c := newTestClient(t, serveValues(t, values))

	rows, err := c.Records(context.Background(), "Members")
	if err != nil {
		t.Fatalf("Records() がエラーを返した: %v", err)
	}
	if rows[0].Username != "alice" || rows[0].Status != "Active" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestClient_Records_MissingRequiredColumn(t *testing.T) {
	values := [][]string{
		{"Name", "Program"},
		{"alice", "MECH"},
	}
	c := newTestClient(t, serveValues(t, values))

	_, err := c.Records(context.Background(), "Members")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSheetsAPI {
		t.Fatalf("err = %v, want SHEETS_API_ERROR", err)
	}
}

func TestClient_Records_EmptySheet(t *testing.T) {
	c := newTestClient(t, serveValues(t, nil))

	rows, err := c.Records(context.Background(), "Members")
	if err != nil {
		t.Fatalf("空のシートはエラーではない: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("行数 = %d, want 0", len(rows))
	}
}

func TestClient_FindRow_CaseInsensitive(t *testing.T) {
	c := newTestClient(t, serveValues(t, sheetValues))

	row, err := c.FindRow(context.Background(), "Members", "ALICE")
	if err != nil {
		t.Fatalf("FindRow() がエラーを返した: %v", err)
	}
	if row.Index != 2 {
		t.Errorf("Index = %d, want 2", row.Index)
	}
}

func TestClient_FindRow_NotFound(t *testing.T) {
	c := newTestClient(t, serveValues(t, sheetValues))

	_, err := c.FindRow(context.Background(), "Members", "ghost")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSheetRowNotFound {
		t.Fatalf("err = %v, want SHEET_ROW_NOT_FOUND", err)
	}
}

func TestClient_UpdateStatus_WritesStatusCell(t *testing.T) {
	var putPath string
	var putBody valueRange
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]any{"values": sheetValues})
			return
		}
		if r.Method == http.MethodPut {
			putPath = r.URL.RequestURI()
			json.NewDecoder(r.Body).Decode(&putBody)
			json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		t.Errorf("予期しないメソッド: %s", r.Method)
	})

	if err := c.UpdateStatus(context.Background(), "Members", 2, "Previous"); err != nil {
		t.Fatalf("UpdateStatus() がエラーを返した: %v", err)
	}

	// Status列はC列（0始まりで2番目）にあり、行番号2のセルが対象となる
	if !strings.Contains(putPath, "C2") {
		t.Errorf("PUTパス = %q, セルC2を指すべき", putPath)
	}
	if !strings.Contains(putPath, "valueInputOption=RAW") {
		t.Errorf("PUTパス = %q, valueInputOption=RAWを含むべき", putPath)
	}
	if len(putBody.Values) != 1 || putBody.Values[0][0] != "Previous" {
		t.Errorf("PUTボディ = %+v", putBody)
	}
}

func TestClient_AppendRow(t *testing.T) {
	var postPath string
	var postBody valueRange
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("予期しないメソッド: %s", r.Method)
		}
		postPath = r.URL.RequestURI()
		json.NewDecoder(r.Body).Decode(&postBody)
		json.NewEncoder(w).Encode(map[string]any{})
	})

	cells := []string{"carol", "carol@example.com", "Alumni", "2026-08-24"}
	if err := c.AppendRow(context.Background(), "Alumni", cells); err != nil {
		t.Fatalf("AppendRow() がエラーを返した: %v", err)
	}

	if !strings.Contains(postPath, ":append") {
		t.Errorf("POSTパス = %q, appendエンドポイントを指すべき", postPath)
	}
	if len(postBody.Values) != 1 || postBody.Values[0][0] != "carol" {
		t.Errorf("POSTボディ = %+v", postBody)
	}
}

func TestColumnLetter(t *testing.T) {
	cases := []struct {
		col  int
		want string
	}{
		{0, "A"},
		{2, "C"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
	}
	for _, c := range cases {
		if got := columnLetter(c.col); got != c.want {
			t.Errorf("columnLetter(%d) = %q, want %q", c.col, got, c.want)
		}
	}
}
