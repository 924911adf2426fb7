package control_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pim-sm/pimd/internal/control"
	"github.com/pim-sm/pimd/internal/types"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	vifs        map[types.VifIndex]string
	memberships []control.MembershipParams
	cfg         control.ConfigSnapshot
	failNextGet bool
}

func newFakeHandler() *fakeHandler { return &fakeHandler{vifs: make(map[types.VifIndex]string)} }

func (f *fakeHandler) AddVif(name string, index types.VifIndex, flags control.VifFlags) error {
	f.vifs[index] = name
	return nil
}
func (f *fakeHandler) DeleteVif(index types.VifIndex) error { delete(f.vifs, index); return nil }
func (f *fakeHandler) EnableVif(types.VifIndex) error       { return nil }
func (f *fakeHandler) DisableVif(types.VifIndex) error      { return nil }
func (f *fakeHandler) StartVif(types.VifIndex) error        { return nil }
func (f *fakeHandler) StopVif(types.VifIndex) error         { return nil }
func (f *fakeHandler) SetVifFlags(types.VifIndex, control.VifFlags) error { return nil }
func (f *fakeHandler) AddVifAddr(control.VifAddrParams) error    { return nil }
func (f *fakeHandler) DeleteVifAddr(control.VifAddrParams) error { return nil }

func (f *fakeHandler) AddMembership(p control.MembershipParams) error {
	f.memberships = append(f.memberships, p)
	return nil
}
func (f *fakeHandler) DeleteMembership(control.MembershipParams) error { return nil }

func (f *fakeHandler) GetConfig() (control.ConfigSnapshot, error) {
	if f.failNextGet {
		return control.ConfigSnapshot{}, assertErr
	}
	return f.cfg, nil
}
func (f *fakeHandler) SetConfig(cfg control.ConfigSnapshot) error { f.cfg = cfg; return nil }
func (f *fakeHandler) ResetConfig() error                         { f.cfg = control.ConfigSnapshot{}; return nil }

func (f *fakeHandler) AddConfigCandBSR(control.CandBSRParams) error    { return nil }
func (f *fakeHandler) DeleteConfigCandBSR(types.VifIndex) error        { return nil }
func (f *fakeHandler) AddConfigCandRP(control.CandRPParams) error      { return nil }
func (f *fakeHandler) DeleteConfigCandRP(types.VifIndex) error         { return nil }
func (f *fakeHandler) AddConfigStaticRP(control.StaticRPParams) error  { return nil }
func (f *fakeHandler) DeleteConfigStaticRP(control.StaticRPParams) error { return nil }
func (f *fakeHandler) ConfigStaticRPDone() error                       { return nil }

func (f *fakeHandler) AddConfigScopeZone(control.ScopeZoneParams) error    { return nil }
func (f *fakeHandler) DeleteConfigScopeZone(control.ScopeZoneParams) error { return nil }

func (f *fakeHandler) GetStats() (control.Stats, error) { return control.Stats{}, nil }

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestDispatchAddVifThenDeleteVif(t *testing.T) {
	h := newFakeHandler()
	resp := control.Dispatch(h, control.Request{Op: control.OpAddVif, Params: map[string]any{
		"name": "eth0", "index": 0,
	}})
	require.Equal(t, control.StatusOK, resp.Status)
	require.Equal(t, "eth0", h.vifs[types.VifIndex(0)])

	resp = control.Dispatch(h, control.Request{Op: control.OpDeleteVif, Params: map[string]any{"index": 0}})
	require.Equal(t, control.StatusOK, resp.Status)
	require.NotContains(t, h.vifs, types.VifIndex(0))
}

func TestDispatchAddMembershipDecodesIPvX(t *testing.T) {
	h := newFakeHandler()
	resp := control.Dispatch(h, control.Request{Op: control.OpAddMembership, Params: map[string]any{
		"vif": 1, "source": nil, "group": "239.1.1.1",
	}})
	require.Equal(t, control.StatusOK, resp.Status)
	require.Len(t, h.memberships, 1)
	require.Equal(t, "239.1.1.1", h.memberships[0].Group.String())
}

func TestDispatchUnknownOp(t *testing.T) {
	h := newFakeHandler()
	resp := control.Dispatch(h, control.Request{Op: control.Op("bogus")})
	require.Equal(t, control.StatusError, resp.Status)
}

func TestDispatchGetConfigPropagatesError(t *testing.T) {
	h := newFakeHandler()
	h.failNextGet = true
	resp := control.Dispatch(h, control.Request{Op: control.OpGetConfig})
	require.Equal(t, control.StatusError, resp.Status)
	require.Equal(t, "boom", resp.Message)
}

func TestServerHTTPRoundTrip(t *testing.T) {
	h := newFakeHandler()
	srv := control.NewServer(h)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	body, err := json.Marshal(control.Request{Op: control.OpAddVif, Params: map[string]any{"name": "eth1", "index": 2}})
	require.NoError(t, err)

	httpResp, err := http.Post(ts.URL+"/control", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp control.Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.Equal(t, control.StatusOK, resp.Status)
	require.Equal(t, "eth1", h.vifs[types.VifIndex(2)])
}
