// Package calibration persists per-axis calibration in a small
// byte-addressable non-volatile image and implements the correction table.
//
// Layout (little-endian):
//
//	0   azimuth turns or accumulator (int32)
//	4   elevation turns or accumulator (int32)
//	8   azimuth offset (int32)
//	16  elevation offset (int32)
//	24  display offset (float32)
//	28  display offset enabled (byte)
//	64  azimuth correction table (int32 per point)
//	256 elevation correction table (int32 per point)
//
// Erased memory reads as all ones and is treated as uninitialized.
package calibration

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/w1xm/eme_rotator/internal/clock"
	"github.com/w1xm/eme_rotator/rotator"
)

var ErrNoTable = errors.New("axis has no correction table")

const erased32 = 0xFFFFFFFF

var (
	accumulatorAddr = [2]int64{0, 4}
	offsetAddr      = [2]int64{8, 16}
	tableAddr       = [2]int64{64, 256}
)

const (
	displayOffsetAddr  = 24
	displayEnabledAddr = 28
)

const (
	maxAzPoints = (256 - 64) / 4
	maxElPoints = 64
)

// MinSize is the smallest image that holds both tables at their maximum size.
const MinSize = 256 + 4*maxElPoints

// TableSpec describes the correction table of one axis. Points == 0 means
// the axis has no table.
type TableSpec struct {
	Points          int
	Step            float64
	CountsPerDegree float64
}

// Linear returns the theoretical table with reference degrees at count 0.
func (s TableSpec) Linear(reference float64) Table {
	return Linear(s.Points, s.Step, s.CountsPerDegree, reference)
}

type AxisData struct {
	// Accumulator is the turn count of an encoder axis or the accumulated
	// counts of a multi-turn potentiometer.
	Accumulator int32
	Offset      int32
	// Table is empty when the axis has no table.
	Table Table
}

type Data struct {
	Axes                 [2]AxisData
	DisplayOffset        float32
	DisplayOffsetEnabled bool
}

// Store reads and writes the persisted layout. It is not safe for
// concurrent use; the control loop owns it.
type Store struct {
	storage Storage
	specs   [2]TableSpec

	autosave *clock.Interval
	pending  [2]bool
	staged   [2]int32

	Logf func(format string, v ...interface{})
}

func NewStore(s Storage, az, el TableSpec, saveInterval time.Duration) (*Store, error) {
	if az.Points > maxAzPoints {
		return nil, fmt.Errorf("azimuth table has %d points, at most %d fit", az.Points, maxAzPoints)
	}
	if el.Points > maxElPoints {
		return nil, fmt.Errorf("elevation table has %d points, at most %d fit", el.Points, maxElPoints)
	}
	for _, spec := range []TableSpec{az, el} {
		if spec.Points == 1 || (spec.Points > 0 && (spec.Step <= 0 || spec.CountsPerDegree == 0)) {
			return nil, fmt.Errorf("invalid table spec %+v", spec)
		}
	}
	return &Store{
		storage:  s,
		specs:    [2]TableSpec{az, el},
		autosave: clock.NewInterval(saveInterval),
		Logf:     log.Printf,
	}, nil
}

// Spec returns the table spec of an axis.
func (st *Store) Spec(axis rotator.Axis) TableSpec {
	return st.specs[axis]
}

func (st *Store) readUint32(addr int64) (uint32, error) {
	var b [4]byte
	if _, err := st.storage.ReadAt(b[:], addr); err != nil {
		return 0, fmt.Errorf("reading address %d: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (st *Store) writeUint32(addr int64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if _, err := st.storage.WriteAt(b[:], addr); err != nil {
		return fmt.Errorf("writing address %d: %w", addr, err)
	}
	return nil
}

// loadInt32 reads a scalar, replacing an erased value with 0 in storage.
func (st *Store) loadInt32(addr int64, name string) (int32, error) {
	v, err := st.readUint32(addr)
	if err != nil {
		return 0, err
	}
	if v == erased32 {
		st.Logf("%s uninitialized; resetting to 0", name)
		return 0, st.writeUint32(addr, 0)
	}
	return int32(v), nil
}

// Load reads the whole layout, resetting uninitialized fields to their defaults.
func (st *Store) Load() (Data, error) {
	var d Data
	for _, axis := range rotator.Axes {
		ad := &d.Axes[axis]
		var err error
		if ad.Accumulator, err = st.loadInt32(accumulatorAddr[axis], axis.String()+" accumulator"); err != nil {
			return d, err
		}
		if ad.Offset, err = st.loadInt32(offsetAddr[axis], axis.String()+" offset"); err != nil {
			return d, err
		}
		spec := st.specs[axis]
		if spec.Points == 0 {
			continue
		}
		t := Table{Step: spec.Step, Values: make([]int32, spec.Points)}
		for i := range t.Values {
			v, err := st.readUint32(tableAddr[axis] + 4*int64(i))
			if err != nil {
				return d, err
			}
			t.Values[i] = int32(v)
		}
		if uint32(t.Values[0]) == erased32 {
			st.Logf("%s correction table uninitialized; resetting to linear", axis)
			t = spec.Linear(0)
			if err := st.SaveTable(axis, t); err != nil {
				return d, err
			}
		}
		ad.Table = t
	}

	bits, err := st.readUint32(displayOffsetAddr)
	if err != nil {
		return d, err
	}
	if bits == erased32 {
		bits = 0
		if err := st.writeUint32(displayOffsetAddr, 0); err != nil {
			return d, err
		}
	}
	d.DisplayOffset = math.Float32frombits(bits)
	var flag [1]byte
	if _, err := st.storage.ReadAt(flag[:], displayEnabledAddr); err != nil {
		return d, fmt.Errorf("reading address %d: %w", displayEnabledAddr, err)
	}
	if flag[0] == 0xFF {
		flag[0] = 0
		if _, err := st.storage.WriteAt(flag[:], displayEnabledAddr); err != nil {
			return d, fmt.Errorf("writing address %d: %w", displayEnabledAddr, err)
		}
	}
	d.DisplayOffsetEnabled = flag[0] != 0
	return d, nil
}

// SaveAccumulator writes the turn count or accumulator immediately.
func (st *Store) SaveAccumulator(axis rotator.Axis, v int32) error {
	st.pending[axis] = false
	return st.writeUint32(accumulatorAddr[axis], uint32(v))
}

// Stage records a new accumulator value to be written by the next due FlushDue.
func (st *Store) Stage(axis rotator.Axis, v int32) {
	st.staged[axis] = v
	st.pending[axis] = true
}

// FlushDue writes staged accumulators if the autosave interval has elapsed.
func (st *Store) FlushDue(now time.Time) error {
	if !st.pending[0] && !st.pending[1] {
		return nil
	}
	if !st.autosave.Due(now) {
		return nil
	}
	return st.Flush()
}

// Flush writes staged accumulators now.
func (st *Store) Flush() error {
	for _, axis := range rotator.Axes {
		if !st.pending[axis] {
			continue
		}
		if err := st.SaveAccumulator(axis, st.staged[axis]); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) SaveOffset(axis rotator.Axis, v int32) error {
	return st.writeUint32(offsetAddr[axis], uint32(v))
}

func (st *Store) SaveTable(axis rotator.Axis, t Table) error {
	if st.specs[axis].Points == 0 {
		return ErrNoTable
	}
	for i := range t.Values {
		if err := st.SaveTablePoint(axis, i, t.Values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) SaveTablePoint(axis rotator.Axis, i int, v int32) error {
	spec := st.specs[axis]
	if spec.Points == 0 {
		return ErrNoTable
	}
	if i < 0 || i >= spec.Points {
		return fmt.Errorf("%s table index %d out of range", axis, i)
	}
	return st.writeUint32(tableAddr[axis]+4*int64(i), uint32(v))
}

func (st *Store) SaveDisplayOffset(offset float32, enabled bool) error {
	if err := st.writeUint32(displayOffsetAddr, math.Float32bits(offset)); err != nil {
		return err
	}
	var flag [1]byte
	if enabled {
		flag[0] = 1
	}
	if _, err := st.storage.WriteAt(flag[:], displayEnabledAddr); err != nil {
		return fmt.Errorf("writing address %d: %w", displayEnabledAddr, err)
	}
	return nil
}

// Reset zeroes the turn counts, accumulators and offsets of both axes in
// place. Estimators keep their in-memory state until restarted.
func (st *Store) Reset() error {
	for _, axis := range rotator.Axes {
		st.pending[axis] = false
		if err := st.writeUint32(accumulatorAddr[axis], 0); err != nil {
			return err
		}
		if err := st.writeUint32(offsetAddr[axis], 0); err != nil {
			return err
		}
	}
	return nil
}
