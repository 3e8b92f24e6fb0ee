package engine

const truncatedMessage = "Log truncated"

// LogCollector keeps the messages a program logged during one session. Once
// [bytesLimit] bytes have been logged a single truncation marker is recorded
// and everything after it is dropped. A non-positive limit disables
// truncation.
type LogCollector struct {
	messages     []string
	bytesWritten int
	bytesLimit   int
	truncated    bool
}

func NewLogCollector(bytesLimit int) *LogCollector {
	return &LogCollector{bytesLimit: bytesLimit}
}

func (c *LogCollector) Log(message string) {
	if c.truncated {
		return
	}

	written := c.bytesWritten + len(message)
	if c.bytesLimit > 0 && written > c.bytesLimit {
		c.truncated = true
		c.messages = append(c.messages, truncatedMessage)
		return
	}

	c.bytesWritten = written
	c.messages = append(c.messages, message)
}

func (c *LogCollector) Messages() []string {
	return c.messages
}

func (c *LogCollector) BytesWritten() int {
	return c.bytesWritten
}

func (c *LogCollector) Truncated() bool {
	return c.truncated
}
