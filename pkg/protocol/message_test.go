package protocol

import "testing"

func TestLookupMsgIDKnown(t *testing.T) {
	if got := LookupMsgID(0x0d); got != MsgSetT1 {
		t.Errorf("LookupMsgID(0x0d) = %v, want MsgSetT1", got)
	}
}

func TestLookupMsgIDUnknown(t *testing.T) {
	if got := LookupMsgID(0x99); got != MsgUnknown {
		t.Errorf("LookupMsgID(0x99) = %v, want MsgUnknown", got)
	}
}

func TestMsgIDString(t *testing.T) {
	if got := MsgSetT1.String(); got != "SET_T1" {
		t.Errorf("String() = %q, want SET_T1", got)
	}
	if got := MsgUnknown.String(); got != "UNKNOWN_ID" {
		t.Errorf("String() = %q, want UNKNOWN_ID", got)
	}
}

func TestIsSetPayloadWidths(t *testing.T) {
	cases := []struct {
		id        MsgID
		wantWidth int
		wantOK    bool
	}{
		{MsgSetT1, 2, true},
		{MsgSetT2, 2, true},
		{MsgSetT3, 2, true},
		{MsgSetMinHeatSetp, 2, true},
		{MsgSetMaxHeatSetp, 2, true},
		{MsgSetUnits, 1, true},
		{MsgSetSeason, 1, true},
		{MsgSetSensorInfluence, 1, true},
		{MsgSetCurve, 1, true},
		{MsgSetAdvance, 1, true},
		{MsgSetMode, 1, true},
		{MsgStatus, 0, false},
		{MsgProgram, 0, false},
	}

	for _, c := range cases {
		width, ok := c.id.IsSet()
		if ok != c.wantOK || width != c.wantWidth {
			t.Errorf("%v.IsSet() = (%d, %v), want (%d, %v)", c.id, width, ok, c.wantWidth, c.wantOK)
		}
	}
}
