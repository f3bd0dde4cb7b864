// Package codec translates between raw ledger account bytes and typed
// records, and encodes instruction arguments. Layouts follow the program's
// account definitions; the schema supplies discriminators and argument
// lists so no call site hand-writes either.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tgxzd/agrox/internal/models"
	"github.com/tgxzd/agrox/internal/schema"
)

var (
	// ErrTruncated means the buffer ended before the layout did.
	ErrTruncated = errors.New("truncated account data")
	// ErrUnknownDiscriminator means the buffer does not start with any
	// known account type's discriminator.
	ErrUnknownDiscriminator = errors.New("unknown account discriminator")
)

type Codec struct {
	schema *schema.Schema
}

func New(s *schema.Schema) *Codec {
	return &Codec{schema: s}
}

// DecodeAny decodes raw account bytes into the typed record matching the
// discriminator: *models.Cluster, *models.Machine, *models.Plant or
// *models.IoTData. Unknown layouts are a decode error, never a crash.
func (c *Codec) DecodeAny(raw []byte) (any, error) {
	if len(raw) < 8 {
		return nil, ErrTruncated
	}
	var head [8]byte
	copy(head[:], raw[:8])

	switch head {
	case schema.AccountDiscriminator(schema.AccountCluster):
		return c.DecodeCluster(raw)
	case schema.AccountDiscriminator(schema.AccountMachine):
		return c.DecodeMachine(raw)
	case schema.AccountDiscriminator(schema.AccountPlantData):
		return c.DecodePlant(raw)
	case schema.AccountDiscriminator(schema.AccountIoTData):
		return c.DecodeIoTData(raw)
	}
	return nil, ErrUnknownDiscriminator
}

func (c *Codec) checkHead(raw []byte, account string) (*reader, error) {
	if !c.schema.HasAccount(account) {
		return nil, fmt.Errorf("account type %q not in schema", account)
	}
	if len(raw) < 8 {
		return nil, ErrTruncated
	}
	d := schema.AccountDiscriminator(account)
	if !bytes.Equal(raw[:8], d[:]) {
		return nil, ErrUnknownDiscriminator
	}
	return newReader(raw[8:]), nil
}

func readNamedAddresses(r *reader) []models.NamedAddress {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	out := make([]models.NamedAddress, 0, n)
	for i := uint32(0); i < n; i++ {
		name := r.str()
		addr := r.address()
		if r.err != nil {
			return nil
		}
		out = append(out, models.NamedAddress{Name: name, Address: addr})
	}
	return out
}

func writeNamedAddresses(w *writer, list []models.NamedAddress) {
	w.u32(uint32(len(list)))
	for _, e := range list {
		w.str(e.Name)
		w.address(e.Address)
	}
}

func (c *Codec) DecodeCluster(raw []byte) (*models.Cluster, error) {
	r, err := c.checkHead(raw, schema.AccountCluster)
	if err != nil {
		return nil, err
	}
	cl := &models.Cluster{
		Authority:        r.address(),
		MachineCount:     r.u64(),
		TotalDataUploads: r.u64(),
		DataRequestCount: r.u64(),
		PlantCount:       r.u64(),
	}
	cl.Machines = readNamedAddresses(r)
	cl.Plants = readNamedAddresses(r)
	cl.Bump = r.u8()
	if r.err != nil {
		return nil, r.err
	}
	return cl, nil
}

func (c *Codec) EncodeCluster(cl *models.Cluster) []byte {
	w := &writer{}
	d := schema.AccountDiscriminator(schema.AccountCluster)
	w.bytes(d[:])
	w.address(cl.Authority)
	w.u64(cl.MachineCount)
	w.u64(cl.TotalDataUploads)
	w.u64(cl.DataRequestCount)
	w.u64(cl.PlantCount)
	writeNamedAddresses(w, cl.Machines)
	writeNamedAddresses(w, cl.Plants)
	w.u8(cl.Bump)
	return w.buf
}

func (c *Codec) DecodeMachine(raw []byte) (*models.Machine, error) {
	r, err := c.checkHead(raw, schema.AccountMachine)
	if err != nil {
		return nil, err
	}
	m := &models.Machine{
		Owner:              r.address(),
		MachineID:          r.str(),
		IsActive:           r.bool(),
		DataCount:          r.u64(),
		ImageCount:         r.u64(),
		RewardsEarned:      r.u64(),
		LastDataTimestamp:  r.i64(),
		LastImageTimestamp: r.i64(),
		DataUsedCount:      r.u64(),
	}
	m.Plants = readNamedAddresses(r)
	m.PlantCount = r.u64()
	m.AuthBump = r.u8()
	m.Bump = r.u8()
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

func (c *Codec) EncodeMachine(m *models.Machine) []byte {
	w := &writer{}
	d := schema.AccountDiscriminator(schema.AccountMachine)
	w.bytes(d[:])
	w.address(m.Owner)
	w.str(m.MachineID)
	w.bool(m.IsActive)
	w.u64(m.DataCount)
	w.u64(m.ImageCount)
	w.u64(m.RewardsEarned)
	w.i64(m.LastDataTimestamp)
	w.i64(m.LastImageTimestamp)
	w.u64(m.DataUsedCount)
	writeNamedAddresses(w, m.Plants)
	w.u64(m.PlantCount)
	w.u8(m.AuthBump)
	w.u8(m.Bump)
	return w.buf
}

func (c *Codec) DecodePlant(raw []byte) (*models.Plant, error) {
	r, err := c.checkHead(raw, schema.AccountPlantData)
	if err != nil {
		return nil, err
	}
	p := &models.Plant{
		Creator:             r.address(),
		PlantName:           r.str(),
		DataCount:           r.u64(),
		ImageCount:          r.u64(),
		CreationTimestamp:   r.i64(),
		LastUpdateTimestamp: r.i64(),
		Machine:             r.address(),
		Bump:                r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

func (c *Codec) EncodePlant(p *models.Plant) []byte {
	w := &writer{}
	d := schema.AccountDiscriminator(schema.AccountPlantData)
	w.bytes(d[:])
	w.address(p.Creator)
	w.str(p.PlantName)
	w.u64(p.DataCount)
	w.u64(p.ImageCount)
	w.i64(p.CreationTimestamp)
	w.i64(p.LastUpdateTimestamp)
	w.address(p.Machine)
	w.u8(p.Bump)
	return w.buf
}

func (c *Codec) DecodeIoTData(raw []byte) (*models.IoTData, error) {
	r, err := c.checkHead(raw, schema.AccountIoTData)
	if err != nil {
		return nil, err
	}
	d := &models.IoTData{
		Machine: r.address(),
		Plant:   r.address(),
	}
	n := r.u32()
	if r.err == nil {
		d.Entries = make([]models.DataEntry, 0, n)
		for i := uint32(0); i < n; i++ {
			d.Entries = append(d.Entries, models.DataEntry{
				Timestamp:   r.i64(),
				Temperature: r.f64(),
				Humidity:    r.f64(),
				ImageURL:    r.optStr(),
				UsedCount:   r.u64(),
			})
			if r.err != nil {
				break
			}
		}
	}
	d.Bump = r.u8()
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}

func (c *Codec) EncodeIoTData(d *models.IoTData) []byte {
	w := &writer{}
	disc := schema.AccountDiscriminator(schema.AccountIoTData)
	w.bytes(disc[:])
	w.address(d.Machine)
	w.address(d.Plant)
	w.u32(uint32(len(d.Entries)))
	for _, e := range d.Entries {
		w.i64(e.Timestamp)
		w.f64(e.Temperature)
		w.f64(e.Humidity)
		w.optStr(e.ImageURL)
		w.u64(e.UsedCount)
	}
	w.u8(d.Bump)
	return w.buf
}

// SafeInt converts a ledger counter to a platform int only when the value
// is within the safe range for downstream JSON consumers; otherwise the
// caller should format it as a string.
func SafeInt(v uint64) (int64, bool) {
	const maxSafe = 1<<53 - 1
	if v > maxSafe {
		return 0, false
	}
	return int64(v), true
}
