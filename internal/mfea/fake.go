package mfea

import "github.com/pim-sm/pimd/internal/ipaddr"

// FakeBridge is an in-memory Bridge used by tests and by pimd when run
// without a real kernel multicast socket (e.g. on hosts lacking
// CAP_NET_ADMIN during integration tests).
type FakeBridge struct {
	MFCs     map[fakeKey]MFC
	Monitors map[fakeKey]DataflowThreshold
}

type fakeKey struct {
	source, group ipaddr.IPvX
}

// NewFakeBridge constructs an empty FakeBridge.
func NewFakeBridge() *FakeBridge {
	return &FakeBridge{MFCs: make(map[fakeKey]MFC), Monitors: make(map[fakeKey]DataflowThreshold)}
}

func (f *FakeBridge) AddMFC(m MFC) error {
	f.MFCs[fakeKey{m.Source, m.Group}] = m
	return nil
}

func (f *FakeBridge) DeleteMFC(source, group ipaddr.IPvX) error {
	delete(f.MFCs, fakeKey{source, group})
	delete(f.Monitors, fakeKey{source, group})
	return nil
}

func (f *FakeBridge) AddDataflowMonitor(t DataflowThreshold) error {
	f.Monitors[fakeKey{t.Source, t.Group}] = t
	return nil
}

func (f *FakeBridge) DeleteDataflowMonitor(source, group ipaddr.IPvX) error {
	delete(f.Monitors, fakeKey{source, group})
	return nil
}

func (f *FakeBridge) DeleteAllDataflowMonitor(source, group ipaddr.IPvX) error {
	delete(f.Monitors, fakeKey{source, group})
	return nil
}
