package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNew_DefaultTimeout(t *testing.T) {
	c := New(0)
	if c.Timeout != defaultTimeout {
		t.Fatalf("expected %v, got %v", defaultTimeout, c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", c.Transport)
	}
	if tr.MaxIdleConnsPerHost != 10 {
		t.Fatalf("expected pooled transport, got MaxIdleConnsPerHost=%d", tr.MaxIdleConnsPerHost)
	}
}

func TestForLongPoll_Headroom(t *testing.T) {
	c := ForLongPoll(30)
	if c.Timeout <= 30*time.Second {
		t.Fatalf("timeout %v does not exceed the poll interval", c.Timeout)
	}
}
