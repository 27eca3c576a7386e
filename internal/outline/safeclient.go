package outline

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// OutlineのベースURLは運用者が環境変数で指定する任意のURLであるため、
// safeurlによりプライベートIP、ループバック、リンクローカル、
// メタデータIPへのリクエストをブロックする。
// DNS解決後のIPアドレスもDialerレベルで検証されるため、
// DNS再バインディング攻撃にも対応している。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}
