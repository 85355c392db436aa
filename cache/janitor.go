package cache

import "time"

// startJanitor runs Sweep every interval until Close.
func (c *Cache[K, V]) startJanitor(every time.Duration) {
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)

		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

func (c *Cache[K, V]) stopJanitor() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
}
