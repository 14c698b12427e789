package tracker

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
)

// CSV tracks scalar metrics and appends them to a CSV file with the
// columns step, name, value. Write errors are logged once and
// discarded afterwards so that a full disk or revoked permissions
// never abort training.
type CSV struct {
	mu       sync.Mutex
	filename string
	records  [][]string
	reported bool
}

// NewCSV creates and returns a new *CSV Tracker saving its metrics to
// filename
func NewCSV(filename string) *CSV {
	return &CSV{filename: filename}
}

// TrackScalar records value for the metric called name at step
func (c *CSV) TrackScalar(name string, value float64, step int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, []string{
		strconv.Itoa(step),
		name,
		strconv.FormatFloat(value, 'g', -1, 64),
	})
}

// Flush appends the buffered metrics to the tracker's file. The
// buffer is dropped whether or not the write succeeds.
func (c *CSV) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.records
	c.records = nil
	if len(records) == 0 {
		return nil
	}

	err := c.write(records)
	if err != nil && !c.reported {
		c.reported = true
		log.Printf("tracker: could not save metrics: %v", err)
	}
	return err
}

func (c *CSV) write(records [][]string) error {
	file, err := os.OpenFile(c.filename,
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("flush: could not open %v: %v", c.filename,
			err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("flush: could not write records: %v", err)
	}
	return nil
}
