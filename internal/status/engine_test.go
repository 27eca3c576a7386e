package status

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// --- モック定義 ---

// mockRoleManager はRoleManagerのテスト用モック。
// 付与・剥奪の呼び出しを記録する。
type mockRoleManager struct {
	mu sync.Mutex

	listMembersFunc func(ctx context.Context) ([]model.Member, error)
	grantRoleFunc   func(ctx context.Context, userID, roleName string) error
	revokeRoleFunc  func(ctx context.Context, userID, roleName string) error

	granted []string // "userID:role"
	revoked []string
}

func (m *mockRoleManager) ListMembers(ctx context.Context) ([]model.Member, error) {
	if m.listMembersFunc != nil {
		return m.listMembersFunc(ctx)
	}
	return nil, nil
}

func (m *mockRoleManager) GrantRole(ctx context.Context, userID, roleName string) error {
	m.mu.Lock()
	m.granted = append(m.granted, userID+":"+roleName)
	m.mu.Unlock()
	if m.grantRoleFunc != nil {
		return m.grantRoleFunc(ctx, userID, roleName)
	}
	return nil
}

func (m *mockRoleManager) RevokeRole(ctx context.Context, userID, roleName string) error {
	m.mu.Lock()
	m.revoked = append(m.revoked, userID+":"+roleName)
	m.mu.Unlock()
	if m.revokeRoleFunc != nil {
		return m.revokeRoleFunc(ctx, userID, roleName)
	}
	return nil
}

// mockSheetStore はSpreadsheetStoreのテスト用モック。
type mockSheetStore struct {
	mu sync.Mutex

	recordsFunc      func(ctx context.Context, worksheet string) ([]model.SheetRow, error)
	findRowFunc      func(ctx context.Context, worksheet, username string) (model.SheetRow, error)
	updateStatusFunc func(ctx context.Context, worksheet string, rowIndex int, status string) error
	appendRowFunc    func(ctx context.Context, worksheet string, cells []string) error

	updates []string // "worksheet:row:status"
	appends [][]string
}

func (m *mockSheetStore) Records(ctx context.Context, worksheet string) ([]model.SheetRow, error) {
	if m.recordsFunc != nil {
		return m.recordsFunc(ctx, worksheet)
	}
	return nil, nil
}

func (m *mockSheetStore) FindRow(ctx context.Context, worksheet, username string) (model.SheetRow, error) {
	if m.findRowFunc != nil {
		return m.findRowFunc(ctx, worksheet, username)
	}
	return model.SheetRow{Index: 2, Username: username}, nil
}

func (m *mockSheetStore) UpdateStatus(ctx context.Context, worksheet string, rowIndex int, status string) error {
	m.mu.Lock()
	m.updates = append(m.updates, worksheet+":"+status)
	m.mu.Unlock()
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, worksheet, rowIndex, status)
	}
	return nil
}

func (m *mockSheetStore) AppendRow(ctx context.Context, worksheet string, cells []string) error {
	m.mu.Lock()
	m.appends = append(m.appends, cells)
	m.mu.Unlock()
	if m.appendRowFunc != nil {
		return m.appendRowFunc(ctx, worksheet, cells)
	}
	return nil
}

// mockMetrics はMetricsのテスト用モック。
type mockMetrics struct {
	runs        int
	transitions int
}

func (m *mockMetrics) RecordPromotionRun(d time.Duration) { m.runs++ }

func (m *mockMetrics) RecordStatusTransitions(n int) { m.transitions += n }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestEngine(discord *mockRoleManager, sheets *mockSheetStore) *Engine {
	var buf bytes.Buffer
	return NewEngine(discord, sheets, &mockMetrics{}, newTestLogger(&buf), "Members", "Alumni")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// --- 遷移表のテスト ---

func TestNext_CoversAllStatuses(t *testing.T) {
	cases := []struct {
		from model.Status
		want model.Status
	}{
		{model.StatusIncoming, model.StatusActive},
		{model.StatusActive, model.StatusPrevious},
		{model.StatusPrevious, model.StatusNone},
		{model.StatusNone, model.StatusNone},
	}
	for _, c := range cases {
		if got := Next(c.from); got != c.want {
			t.Errorf("Next(%q) = %q, want %q", c.from, got, c.want)
		}
	}
}

// --- PromoteAllのテスト ---

func TestEngine_PromoteAll_AdvancesEachTier(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "1", Username: "alice", Roles: []string{"Incoming"}},
				{ID: "2", Username: "bob", Roles: []string{"Active"}},
				{ID: "3", Username: "carol", Roles: []string{"Previous"}},
				{ID: "4", Username: "dave", Roles: []string{"E-Bike"}}, // ステータスロールなし
			}, nil
		},
	}
	sheets := &mockSheetStore{}

	e := newTestEngine(discord, sheets)
	rep, err := e.PromoteAll(context.Background())
	if err != nil {
		t.Fatalf("PromoteAll() がエラーを返した: %v", err)
	}

	// ステータスロールを持たないメンバーは対象外
	if len(rep.Results) != 3 {
		t.Fatalf("遷移数 = %d, want 3", len(rep.Results))
	}

	if !contains(discord.revoked, "1:Incoming") || !contains(discord.granted, "1:Active") {
		t.Errorf("Incoming→Active の付け替えが行われていない: revoked=%v granted=%v", discord.revoked, discord.granted)
	}
	if !contains(discord.revoked, "2:Active") || !contains(discord.granted, "2:Previous") {
		t.Errorf("Active→Previous の付け替えが行われていない")
	}
	// Previousのメンバーは新しいロールを付与されない
	if !contains(discord.revoked, "3:Previous") {
		t.Errorf("Previousロールが剥奪されていない: %v", discord.revoked)
	}
	for _, g := range discord.granted {
		if g == "3:Incoming" || g == "3:Active" || g == "3:Previous" {
			t.Errorf("最終ティアからの遷移でロールが付与された: %v", discord.granted)
		}
	}
}

func TestEngine_PromoteAll_ArchivesDepartingMember(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "3", Username: "carol", Roles: []string{"Previous"}},
			}, nil
		},
	}
	sheets := &mockSheetStore{
		findRowFunc: func(ctx context.Context, worksheet, username string) (model.SheetRow, error) {
			return model.SheetRow{Index: 5, Username: username, Email: "carol@example.com"}, nil
		},
	}

	e := newTestEngine(discord, sheets)
	rep, err := e.PromoteAll(context.Background())
	if err != nil {
		t.Fatalf("PromoteAll() がエラーを返した: %v", err)
	}

	if !rep.Results[0].Archived {
		t.Error("離脱メンバーにアーカイブフラグが立っていない")
	}
	if len(sheets.appends) != 1 {
		t.Fatalf("アーカイブ行の追記数 = %d, want 1", len(sheets.appends))
	}
	row := sheets.appends[0]
	if row[0] != "carol" || row[1] != "carol@example.com" || row[2] != "Alumni" {
		t.Errorf("アーカイブ行の内容が不正: %v", row)
	}
	if !contains(sheets.updates, "Members:Alumni") {
		t.Errorf("シートのステータスがAlumniに更新されていない: %v", sheets.updates)
	}
}

func TestEngine_PromoteAll_MissingSheetRowIsNonFatal(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "1", Username: "alice", Roles: []string{"Incoming"}},
			}, nil
		},
	}
	sheets := &mockSheetStore{
		findRowFunc: func(ctx context.Context, worksheet, username string) (model.SheetRow, error) {
			return model.SheetRow{}, model.NewSheetRowNotFoundError(username)
		},
	}

	e := newTestEngine(discord, sheets)
	rep, err := e.PromoteAll(context.Background())
	if err != nil {
		t.Fatalf("PromoteAll() がエラーを返した: %v", err)
	}

	// ロールの付け替えは成功として扱われ、エラーは記録されない
	if rep.Results[0].Err != "" {
		t.Errorf("シート行の不在はエラーとして記録されないべき: %q", rep.Results[0].Err)
	}
	if !contains(discord.granted, "1:Active") {
		t.Error("シート行がなくてもロールの付け替えは行われるべき")
	}
}

func TestEngine_PromoteAll_RoleErrorRecordedAndContinues(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "1", Username: "alice", Roles: []string{"Incoming"}},
				{ID: "2", Username: "bob", Roles: []string{"Active"}},
			}, nil
		},
		revokeRoleFunc: func(ctx context.Context, userID, roleName string) error {
			if userID == "1" {
				return errors.New("missing permission")
			}
			return nil
		},
	}
	sheets := &mockSheetStore{}

	e := newTestEngine(discord, sheets)
	rep, err := e.PromoteAll(context.Background())
	if err != nil {
		t.Fatalf("個別メンバーの失敗でPromoteAll()がエラーを返してはならない: %v", err)
	}

	if rep.CountByError() != 1 {
		t.Errorf("エラー数 = %d, want 1", rep.CountByError())
	}
	// 2人目の処理は継続される
	if !contains(discord.granted, "2:Previous") {
		t.Error("失敗後も残りのメンバーは処理されるべき")
	}
}

// --- SetStatusのテスト ---

func TestEngine_SetStatus_ExclusiveRoles(t *testing.T) {
	// 複数のステータスロールを持つ異常状態からでも、指定ロールのみが残る
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "1", Username: "alice", Roles: []string{"Incoming", "Previous"}},
			}, nil
		},
	}
	sheets := &mockSheetStore{}

	e := newTestEngine(discord, sheets)
	tr, err := e.SetStatus(context.Background(), "alice", model.StatusActive)
	if err != nil {
		t.Fatalf("SetStatus() がエラーを返した: %v", err)
	}

	if !contains(discord.revoked, "1:Incoming") || !contains(discord.revoked, "1:Previous") {
		t.Errorf("他のステータスロールが剥奪されていない: %v", discord.revoked)
	}
	if !contains(discord.granted, "1:Active") {
		t.Errorf("指定ロールが付与されていない: %v", discord.granted)
	}
	if tr.To != model.StatusActive {
		t.Errorf("To = %q, want Active", tr.To)
	}
	if !contains(sheets.updates, "Members:Active") {
		t.Errorf("シートが更新されていない: %v", sheets.updates)
	}
}

func TestEngine_SetStatus_MemberNotFound(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return nil, nil
		},
	}

	e := newTestEngine(discord, &mockSheetStore{})
	_, err := e.SetStatus(context.Background(), "ghost", model.StatusActive)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeMemberNotFound {
		t.Fatalf("err = %v, want MEMBER_NOT_FOUND", err)
	}
}

func TestEngine_SetStatus_SheetRowMissingReturnsErrorAfterRoleChange(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "1", Username: "alice", Roles: []string{"Incoming"}},
			}, nil
		},
	}
	sheets := &mockSheetStore{
		findRowFunc: func(ctx context.Context, worksheet, username string) (model.SheetRow, error) {
			return model.SheetRow{}, model.NewSheetRowNotFoundError(username)
		},
	}

	e := newTestEngine(discord, sheets)
	tr, err := e.SetStatus(context.Background(), "alice", model.StatusActive)

	// ロール変更は完了しており、遷移結果とともにエラーが返る
	if err == nil {
		t.Fatal("シート行の不在時はエラーを返すべき")
	}
	if tr == nil || tr.To != model.StatusActive {
		t.Fatalf("遷移結果が返されていない: %+v", tr)
	}
	if !contains(discord.granted, "1:Active") {
		t.Error("シート行がなくてもロール変更は行われるべき")
	}
}

// --- SyncFromSheetのテスト ---

func TestEngine_SyncFromSheet_AlignsRolesToSheet(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "1", Username: "alice", Roles: []string{"Incoming"}}, // シートではActive
				{ID: "2", Username: "bob", Roles: []string{"Active"}},    // 整合済み
			}, nil
		},
	}
	sheets := &mockSheetStore{
		recordsFunc: func(ctx context.Context, worksheet string) ([]model.SheetRow, error) {
			return []model.SheetRow{
				{Index: 2, Username: "alice", Status: "Active"},
				{Index: 3, Username: "bob", Status: "Active"},
			}, nil
		},
	}

	e := newTestEngine(discord, sheets)
	rep, err := e.SyncFromSheet(context.Background())
	if err != nil {
		t.Fatalf("SyncFromSheet() がエラーを返した: %v", err)
	}

	// 整合済みのメンバーは対象外
	if len(rep.Results) != 1 {
		t.Fatalf("遷移数 = %d, want 1", len(rep.Results))
	}
	if !contains(discord.revoked, "1:Incoming") || !contains(discord.granted, "1:Active") {
		t.Errorf("ロールの整合が行われていない: revoked=%v granted=%v", discord.revoked, discord.granted)
	}
	// 整合済みのメンバーにAPI呼び出しは発生しない
	for _, g := range discord.granted {
		if g == "2:Active" {
			t.Error("整合済みメンバーにロール付与が発生した")
		}
	}
}

func TestEngine_SyncFromSheet_SkipsInvalidStatusAndUnknownUser(t *testing.T) {
	discord := &mockRoleManager{
		listMembersFunc: func(ctx context.Context) ([]model.Member, error) {
			return []model.Member{
				{ID: "1", Username: "alice", Roles: nil},
			}, nil
		},
	}
	sheets := &mockSheetStore{
		recordsFunc: func(ctx context.Context, worksheet string) ([]model.SheetRow, error) {
			return []model.SheetRow{
				{Index: 2, Username: "alice", Status: "Alumni"}, // 3値以外はスキップ
				{Index: 3, Username: "ghost", Status: "Active"}, // Discordにいない
			}, nil
		},
	}

	e := newTestEngine(discord, sheets)
	rep, err := e.SyncFromSheet(context.Background())
	if err != nil {
		t.Fatalf("SyncFromSheet() がエラーを返した: %v", err)
	}

	if len(rep.Results) != 0 {
		t.Errorf("スキップ対象の行で遷移が発生した: %+v", rep.Results)
	}
	if len(discord.granted) != 0 || len(discord.revoked) != 0 {
		t.Errorf("スキップ対象の行でAPI呼び出しが発生した")
	}
}
