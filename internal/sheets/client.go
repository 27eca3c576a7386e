package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/electrium-mobility/rolesync/internal/model"
)

// DefaultBaseURL はGoogle Sheets APIのベースURL。
const DefaultBaseURL = "https://sheets.googleapis.com/v4"

// ヘッダー行の列名候補。大文字小文字を区別せずに照合する。
var (
	usernameHeaders = []string{"discord username", "discord", "username"}
	statusHeaders   = []string{"status", "state"}
	emailHeaders    = []string{"email", "uwaterloo email"}
)

// Client はGoogle Sheets APIのクライアント。
// httpClientにはサービスアカウント認証済みのクライアントを渡す。
type Client struct {
	httpClient    *http.Client
	logger        *slog.Logger
	spreadsheetID string
	baseURL       string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, spreadsheetID string) *Client {
	return &Client{
		httpClient:    httpClient,
		logger:        logger,
		spreadsheetID: spreadsheetID,
		baseURL:       DefaultBaseURL,
	}
}

// valueRange はvalues系エンドポイントのリクエスト/レスポンス構造。
type valueRange struct {
	Range  string     `json:"range,omitempty"`
	Values [][]string `json:"values"`
}

// Records はワークシートの全行をSheetRowとして返す。
// 1行目をヘッダーとして解釈し、Discord Username / Status / Email 列を特定する。
// 該当列が見つからない場合はSheetsAPIErrorを返す。
func (c *Client) Records(ctx context.Context, worksheet string) ([]model.SheetRow, error) {
	values, err := c.getValues(ctx, worksheet)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []model.SheetRow{}, nil
	}

	headers := values[0]
	userCol := findColumn(headers, usernameHeaders)
	statusCol := findColumn(headers, statusHeaders)
	if userCol < 0 || statusCol < 0 {
		c.logger.Error("必須列が見つかりません",
			slog.String("worksheet", worksheet),
			slog.Any("headers", headers),
		)
		return nil, model.NewSheetsAPIError("Discord Username 列または Status 列が見つかりません")
	}
	emailCol := findColumn(headers, emailHeaders)

	rows := make([]model.SheetRow, 0, len(values)-1)
	for i, cells := range values[1:] {
		row := model.SheetRow{
			Index:    i + 2, // シートの行番号は1始まりで、1行目はヘッダー
			Username: strings.TrimSpace(cellAt(cells, userCol)),
			Status:   strings.TrimSpace(cellAt(cells, statusCol)),
			Fields:   map[string]string{},
		}
		if emailCol >= 0 {
			row.Email = strings.TrimSpace(cellAt(cells, emailCol))
		}
		for j, h := range headers {
			if j == userCol || j == statusCol || j == emailCol {
				continue
			}
			if v := cellAt(cells, j); v != "" {
				row.Fields[h] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FindRow はユーザー名に一致する行を返す。
// 照合は大文字小文字を区別しない。見つからない場合はSheetRowNotFoundErrorを返す。
func (c *Client) FindRow(ctx context.Context, worksheet, username string) (model.SheetRow, error) {
	rows, err := c.Records(ctx, worksheet)
	if err != nil {
		return model.SheetRow{}, err
	}
	for _, row := range rows {
		if strings.EqualFold(row.Username, username) {
			return row, nil
		}
	}
	return model.SheetRow{}, model.NewSheetRowNotFoundError(username)
}

// UpdateStatus は指定行のStatus列を書き換える。
// rowIndexはRecordsが返したシート上の行番号（1始まり）を指定する。
func (c *Client) UpdateStatus(ctx context.Context, worksheet string, rowIndex int, status string) error {
	headers, err := c.headerRow(ctx, worksheet)
	if err != nil {
		return err
	}
	statusCol := findColumn(headers, statusHeaders)
	if statusCol < 0 {
		return model.NewSheetsAPIError("Status 列が見つかりません")
	}

	cellRange := fmt.Sprintf("'%s'!%s%d", worksheet, columnLetter(statusCol), rowIndex)
	path := fmt.Sprintf("/spreadsheets/%s/values/%s?valueInputOption=RAW",
		c.spreadsheetID, url.PathEscape(cellRange))
	body := valueRange{Values: [][]string{{status}}}
	return c.write(ctx, http.MethodPut, path, body)
}

// AppendRow はワークシートの末尾に1行追加する。
// 昇格処理での離脱メンバーのアーカイブ記録に使用する。
func (c *Client) AppendRow(ctx context.Context, worksheet string, cells []string) error {
	rangeRef := fmt.Sprintf("'%s'!A1", worksheet)
	path := fmt.Sprintf("/spreadsheets/%s/values/%s:append?valueInputOption=RAW",
		c.spreadsheetID, url.PathEscape(rangeRef))
	body := valueRange{Values: [][]string{cells}}
	return c.write(ctx, http.MethodPost, path, body)
}

// getValues はワークシート全体の値を取得する。
func (c *Client) getValues(ctx context.Context, worksheet string) ([][]string, error) {
	rangeRef := fmt.Sprintf("'%s'", worksheet)
	path := fmt.Sprintf("/spreadsheets/%s/values/%s", c.spreadsheetID, url.PathEscape(rangeRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Google Sheets APIの呼び出しに失敗しました",
			slog.String("worksheet", worksheet),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSheetsAPIError("接続エラー")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Google Sheets APIがエラーステータスを返しました",
			slog.String("worksheet", worksheet),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return nil, model.NewSheetsAPIError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	var vr valueRange
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, model.NewSheetsAPIError("レスポンスのパースに失敗")
	}
	return vr.Values, nil
}

// headerRow はワークシートの1行目（ヘッダー行）を取得する。
func (c *Client) headerRow(ctx context.Context, worksheet string) ([]string, error) {
	values, err := c.getValues(ctx, worksheet)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, model.NewSheetsAPIError("ワークシートが空です")
	}
	return values[0], nil
}

// write は書き込み系エンドポイントを呼び出す。
func (c *Client) write(ctx context.Context, method, path string, body valueRange) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Google Sheets APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return model.NewSheetsAPIError("接続エラー")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Google Sheets APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(raw)),
		)
		return model.NewSheetsAPIError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}
	return nil
}

// findColumn はヘッダー行から候補名に一致する列の添字を返す。見つからない場合は-1。
func findColumn(headers []string, candidates []string) int {
	for i, h := range headers {
		name := strings.ToLower(strings.TrimSpace(h))
		for _, c := range candidates {
			if name == c {
				return i
			}
		}
	}
	return -1
}

// cellAt は行のi番目のセルを返す。行が短い場合は空文字列を返す。
func cellAt(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// columnLetter は0始まりの列添字をA1表記の列文字に変換する。
func columnLetter(col int) string {
	letters := ""
	for col >= 0 {
		letters = string(rune('A'+col%26)) + letters
		col = col/26 - 1
	}
	return letters
}
