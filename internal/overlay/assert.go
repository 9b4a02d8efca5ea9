package overlay

var (
	_ Overlay = (*InprocPeer)(nil)
	_ Overlay = (*Hub)(nil)
	_ Overlay = (*Client)(nil)
)
