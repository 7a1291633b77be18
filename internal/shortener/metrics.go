package shortener

// Metrics receives engine events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	CacheLookup(hit bool)
	ClickRecorded()
	ClickTaskFailed()
	ClickTaskDropped()
	ClickTaskSpilled()
	CodeCollision()
}

type nopMetrics struct{}

func (nopMetrics) CacheLookup(bool)  {}
func (nopMetrics) ClickRecorded()    {}
func (nopMetrics) ClickTaskFailed()  {}
func (nopMetrics) ClickTaskDropped() {}
func (nopMetrics) ClickTaskSpilled() {}
func (nopMetrics) CodeCollision()    {}
