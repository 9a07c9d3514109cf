package tab

// PendingClosed 返回等待销毁事件确认的标签页数量
func PendingClosed(h *Handle) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}
