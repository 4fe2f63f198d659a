package protocol_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/emuconsole/protocol"
)

var _ = Describe("Headers", func() {
	Describe("Header", func() {
		It("is packed into five little endian bytes", func() {
			h := protocol.Header{Type: protocol.EventMouse, ParamSize: 16}
			Expect(h.Marshal()).To(Equal([]byte{0, 16, 0, 0, 0}))
		})

		It("decodes what it encodes", func() {
			h := protocol.Header{Type: protocol.CmdGetQemuPath, ParamSize: 0x01020304}
			out, err := protocol.DecodeHeader(h.Marshal())
			Expect(err).To(Succeed())
			Expect(out).To(Equal(h))
		})

		It("rejects short input", func() {
			_, err := protocol.DecodeHeader([]byte{1, 2})
			Expect(errors.Is(err, protocol.ErrShortHeader)).To(BeTrue())
		})
	})

	Describe("EncodeFrame()", func() {
		It("omits the payload when there are no parameters", func() {
			b, err := protocol.EncodeFrame(protocol.CmdToggleNetwork, nil)
			Expect(err).To(Succeed())
			Expect(b).To(Equal([]byte{2, 0, 0, 0, 0}))
		})

		It("appends the parameters after the header", func() {
			b, err := protocol.EncodeFrame(protocol.CmdTraceControl, []byte{1, 0, 0, 0})
			Expect(err).To(Succeed())
			Expect(b).To(Equal([]byte{3, 4, 0, 0, 0, 1, 0, 0, 0}))
		})
	})

	Describe("RespHeader", func() {
		It("keeps negative results", func() {
			r := protocol.RespHeader{Result: -1, DataSize: 0}
			out, err := protocol.DecodeRespHeader(r.Marshal())
			Expect(err).To(Succeed())
			Expect(out.Result).To(Equal(int32(-1)))
		})
	})

	Describe("UpdateHeader", func() {
		It("sizes the pixels from the rectangle and pixel width", func() {
			u := protocol.UpdateHeader{X: 1, Y: 2, W: 10, H: 4}
			Expect(u.PixelsSize(4)).To(Equal(160))

			out, err := protocol.DecodeUpdateHeader(u.Marshal())
			Expect(err).To(Succeed())
			Expect(out).To(Equal(u))
		})
	})

	Describe("TransferTimeout()", func() {
		It("is two seconds plus ten milliseconds a byte", func() {
			Expect(protocol.TransferTimeout(0)).To(Equal(2 * time.Second))
			Expect(protocol.TransferTimeout(100)).To(Equal(3 * time.Second))
		})
	})
})
