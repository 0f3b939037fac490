package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vmtrace/psw"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		op   uint16
		addr uint32
		want string
	}{
		{"read page fault", PageFault, psw.OpRead, 0x400, "unresolved page fault on read at 00000400"},
		{"write page fault", PageFault, psw.OpWrite, 0x1234, "unresolved page fault on write at 00001234"},
		{"write permission", WritePermissionFault, psw.OpWrite, 0x800, "unresolved write permission fault on write at 00000800"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var status psw.PSW
			status.SetOpState(tt.op)
			status.SetNextAddr(tt.addr)
			err := &Error{Kind: tt.kind, Status: status}
			assert.Equal(t, tt.want, err.Error())
			assert.Equal(t, tt.addr, err.Addr())
		})
	}
}

func TestHandlerFunc(t *testing.T) {
	var got psw.PSW
	var h Handler = HandlerFunc(func(status psw.PSW) bool {
		got = status
		return true
	})
	assert.True(t, h.Run(psw.PSW(7)))
	assert.Equal(t, psw.PSW(7), got)
}
