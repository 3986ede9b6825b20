// Package agent emulates a vehicle telemetry agent: it replays recorded
// accelerometer and GPS tracks and posts them to the gateway on a schedule.
package agent

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"road-state-gateway/internal/data"
)

var ErrNotReading = errors.New("datasource is not reading")

// FileDatasource replays accelerometer rows (x,y,z) and GPS rows
// (longitude,latitude) from two CSV files with a header line. Both files wrap
// around independently at EOF. Samples are stamped with the time of reading.
type FileDatasource struct {
	accelerometerFile string
	gpsFile           string
	userID            int64
	now               func() time.Time

	accelerometer *csvCursor
	gps           *csvCursor
}

func NewFileDatasource(accelerometerFile, gpsFile string, userID int64) *FileDatasource {
	return &FileDatasource{
		accelerometerFile: accelerometerFile,
		gpsFile:           gpsFile,
		userID:            userID,
		now:               time.Now,
	}
}

// StartReading opens both files. It must be called before Read.
func (d *FileDatasource) StartReading() error {
	if d.accelerometer != nil {
		return nil
	}
	acc, err := openCursor(d.accelerometerFile, 3)
	if err != nil {
		return err
	}
	gps, err := openCursor(d.gpsFile, 2)
	if err != nil {
		acc.close()
		return err
	}
	d.accelerometer, d.gps = acc, gps
	return nil
}

// Read returns the next sample.
func (d *FileDatasource) Read() (data.RawSample, error) {
	if d.accelerometer == nil {
		return data.RawSample{}, ErrNotReading
	}
	acc, err := d.accelerometer.next()
	if err != nil {
		return data.RawSample{}, err
	}
	pos, err := d.gps.next()
	if err != nil {
		return data.RawSample{}, err
	}
	return data.RawSample{
		UserID:        d.userID,
		Accelerometer: data.Accelerometer{X: acc[0], Y: acc[1], Z: acc[2]},
		GPS:           data.GPS{Longitude: pos[0], Latitude: pos[1]},
		Timestamp:     d.now().UTC(),
	}, nil
}

// StopReading closes both files. Calling it twice is harmless.
func (d *FileDatasource) StopReading() error {
	if d.accelerometer == nil {
		return nil
	}
	err := errors.Join(d.accelerometer.close(), d.gps.close())
	d.accelerometer, d.gps = nil, nil
	return err
}

type csvCursor struct {
	path  string
	width int
	f     *os.File
	r     *csv.Reader
}

func openCursor(path string, width int) (*csvCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	c := &csvCursor{path: path, width: width, f: f}
	if err := c.rewind(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// rewind positions the cursor on the first data row.
func (c *csvCursor) rewind() error {
	if _, err := c.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%s: %w", c.path, err)
	}
	c.r = csv.NewReader(c.f)
	c.r.FieldsPerRecord = c.width
	c.r.TrimLeadingSpace = true
	if _, err := c.r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: missing header", c.path)
		}
		return fmt.Errorf("%s: header: %w", c.path, err)
	}
	return nil
}

func (c *csvCursor) next() ([]float64, error) {
	row, err := c.r.Read()
	if errors.Is(err, io.EOF) {
		if err := c.rewind(); err != nil {
			return nil, err
		}
		row, err = c.r.Read()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: no data rows", c.path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.path, err)
	}

	out := make([]float64, len(row))
	for i, field := range row {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			line, _ := c.r.FieldPos(i)
			return nil, fmt.Errorf("%s:%d: column %d: %w", c.path, line, i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func (c *csvCursor) close() error {
	return c.f.Close()
}
