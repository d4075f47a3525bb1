package jobobject

// HandleOf returns the job handle owned by g
func HandleOf(g *Group) Handle {
	return g.handle
}

// KeyOf returns the completion key g associates with its port
func KeyOf(g *Group) uintptr {
	return g.key()
}

var (
	AccountingSize           = accountingSize
	ExtendedLimitSize        = extendedLimitSize
	MaxProcessIDListAttempts = maxProcessIDListAttempts
)
