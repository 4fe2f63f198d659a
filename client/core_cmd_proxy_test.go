package client_test

import (
	"encoding/binary"
	"io"
	"io/ioutil"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/client"
	"github.com/luma/emuconsole/protocol"
)

func respond(p *peer, result int32, data []byte) {
	head := protocol.RespHeader{Result: result, DataSize: uint32(len(data))}
	_, err := p.Write(append(head.Marshal(), data...))
	Expect(err).To(Succeed())
}

var _ = Describe("CoreCmdProxy", func() {
	var (
		console *fakeConsole
		proxy   *client.CoreCmdProxy
		p       *peer
	)

	BeforeEach(func() {
		console = okConsole()

		var err error
		proxy, err = client.NewCoreCmdProxy(console.Addr(), "abc", zap.NewNop())
		Expect(err).To(Succeed())

		Eventually(console.peers).Should(Receive(&p))
		Expect(p.Switch).To(Equal("qemu ui-core-control session=abc"))
	})

	AfterEach(func() {
		proxy.Close()
		p.Close()
		console.Close()
	})

	It("decodes a net speed entry", func() {
		go func() {
			defer GinkgoRecover()

			header, params := p.readFrame()
			Expect(header.Type).To(Equal(protocol.CmdGetNetSpeed))
			Expect(params).To(Equal([]byte{0, 0, 0, 0}))

			entry := &protocol.NetSpeed{Name: "full", Display: "Full speed", Upload: 1000000, Download: 1000000}
			data, err := entry.Marshal()
			Expect(err).To(Succeed())
			respond(p, 0, data)
		}()

		speed, found, err := proxy.GetNetSpeed(0)
		Expect(err).To(Succeed())
		Expect(found).To(BeTrue())
		Expect(speed).To(Equal(protocol.NetSpeed{Name: "full", Display: "Full speed", Upload: 1000000, Download: 1000000}))
	})

	It("reports a missing entry as not found", func() {
		go func() {
			defer GinkgoRecover()
			p.readFrame()
			respond(p, -1, nil)
		}()

		_, found, err := proxy.GetNetDelay(42)
		Expect(err).To(Succeed())
		Expect(found).To(BeFalse())
	})

	It("reads answers carried in the result", func() {
		go func() {
			defer GinkgoRecover()

			header, _ := p.readFrame()
			Expect(header.Type).To(Equal(protocol.CmdIsNetworkDisabled))
			respond(p, 1, nil)

			header, _ = p.readFrame()
			Expect(header.Type).To(Equal(protocol.CmdGetLcdDensity))
			respond(p, 240, nil)
		}()

		disabled, err := proxy.IsNetworkDisabled()
		Expect(err).To(Succeed())
		Expect(disabled).To(BeTrue())

		density, err := proxy.GetLcdDensity()
		Expect(err).To(Succeed())
		Expect(density).To(Equal(240))
	})

	It("sends the file type and name for GetQemuPath", func() {
		go func() {
			defer GinkgoRecover()

			header, params := p.readFrame()
			Expect(header.Type).To(Equal(protocol.CmdGetQemuPath))

			var cmd protocol.GetQemuPath
			Expect(cmd.Unmarshal(params)).To(Succeed())
			Expect(cmd).To(Equal(protocol.GetQemuPath{Type: protocol.FileTypeKeymap, Filename: "en-us"}))

			respond(p, 0, protocol.EncodeCString("/usr/share/keymaps/en-us"))
		}()

		path, found, err := proxy.GetQemuPath(protocol.FileTypeKeymap, "en-us")
		Expect(err).To(Succeed())
		Expect(found).To(BeTrue())
		Expect(path).To(Equal("/usr/share/keymaps/en-us"))
	})

	It("sends fire and forget commands without waiting", func() {
		Expect(proxy.SetCoarseOrientation(protocol.OrientationLandscape)).To(Succeed())
		Expect(proxy.ToggleNetwork()).To(Succeed())
		Expect(proxy.TraceControl(true)).To(Succeed())

		header, params := p.readFrame()
		Expect(header.Type).To(Equal(protocol.CmdSetCoarseOrientation))
		Expect(binary.LittleEndian.Uint32(params)).To(Equal(uint32(1)))

		header, params = p.readFrame()
		Expect(header.Type).To(Equal(protocol.CmdToggleNetwork))
		Expect(params).To(BeEmpty())

		header, params = p.readFrame()
		Expect(header.Type).To(Equal(protocol.CmdTraceControl))
		Expect(params).To(Equal([]byte{1, 0, 0, 0}))
	})

	It("closes the stream when a response comes too late", func() {
		closed := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(closed)

			header, _ := p.readFrame()
			Expect(header.Type).To(Equal(protocol.CmdGetLcdDensity))

			// Never answer in time; the proxy has to hang up.
			io.Copy(ioutil.Discard, p)

			head := protocol.RespHeader{Result: 240}
			p.Write(head.Marshal())
		}()

		_, err := proxy.GetLcdDensity()
		Expect(err).To(MatchError(async.ErrTimeout))
		Eventually(closed, 5*time.Second).Should(BeClosed())

		// The late 240 must never be read as the answer to another request.
		_, err = proxy.IsNetworkDisabled()
		Expect(err).To(MatchError(client.ErrNotOpen))
		Expect(proxy.ToggleNetwork()).To(MatchError(client.ErrNotOpen))
	})
})
