package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Flarenzy/wg-ha/internal/domain"
)

var clientConfigTemplate = template.Must(template.New("wg").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`[Interface]
Address = {{ .Interface.Address }}
PrivateKey = {{ .Interface.PrivateKey }}
{{- range .Peers }}

[Peer]
PublicKey = {{ .PublicKey }}
{{- if .Endpoint }}
Endpoint = {{ .Endpoint }}
{{- end }}
AllowedIPs = {{ join .AllowedIPs ", " }}
{{- end }}
`))

// WireGuard renders client configuration files in wg-quick format.
type WireGuard struct{}

func NewWireGuard() WireGuard {
	return WireGuard{}
}

func (WireGuard) RenderClientConfig(cfg domain.ClientConfig) (string, error) {
	return WireGuardConfig(cfg.Interface, cfg.Peers)
}

func WireGuardConfig(iface domain.ClientInterface, peers []domain.ClientRemote) (string, error) {
	var buf bytes.Buffer
	err := clientConfigTemplate.Execute(&buf, struct {
		Interface domain.ClientInterface
		Peers     []domain.ClientRemote
	}{iface, peers})
	if err != nil {
		return "", fmt.Errorf("render client config: %w", err)
	}
	return buf.String(), nil
}
