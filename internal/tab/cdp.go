package tab

import (
	"context"

	"tabkeeper/internal/cdp"
	"tabkeeper/pkg/domain"
)

// cdpBrowser 将 ClientManager 适配为 Browser
type cdpBrowser struct {
	*cdp.ClientManager
}

// NewCDPBrowser 基于 CDP 连接管理器创建 Browser
func NewCDPBrowser(m *cdp.ClientManager) Browser {
	return cdpBrowser{m}
}

func (b cdpBrowser) Page(ctx context.Context, id domain.TabID) (Page, error) {
	p, err := b.AttachPage(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}
