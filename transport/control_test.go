package transport_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/storage"
	"github.com/luma/emuconsole/transport"
)

var _ = Describe("Control", func() {
	var (
		dataDir    string
		control    *transport.Control
		registered []bool
	)

	touch := func(path string) {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte("data"), 0o644)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		dataDir, err = os.MkdirTemp("", "emuconsole-control")
		Expect(err).To(Succeed())

		registered = nil
		control = transport.NewControl(transport.ControlOptions{
			Hardware: storage.NewHardwareStore(),
			DataDir:  dataDir,
			Modem:    func(r bool) { registered = append(registered, r) },
		})
	})

	AfterEach(func() {
		os.RemoveAll(dataDir)
	})

	Describe("GetQemuPath", func() {
		It("finds a BIOS image in the search directories", func() {
			touch(filepath.Join(dataDir, "lib/pc-bios/bios.bin"))

			path, found := control.GetQemuPath(protocol.FileTypeBIOS, "bios.bin")
			Expect(found).To(BeTrue())
			Expect(path).To(Equal(filepath.Join(dataDir, "lib/pc-bios/bios.bin")))
		})

		It("prefers the data directory itself", func() {
			touch(filepath.Join(dataDir, "bios.bin"))
			touch(filepath.Join(dataDir, "lib/pc-bios/bios.bin"))

			path, found := control.GetQemuPath(protocol.FileTypeBIOS, "bios.bin")
			Expect(found).To(BeTrue())
			Expect(path).To(Equal(filepath.Join(dataDir, "bios.bin")))
		})

		It("looks for keymaps under keymaps/", func() {
			touch(filepath.Join(dataDir, "keymaps/en-us"))

			path, found := control.GetQemuPath(protocol.FileTypeKeymap, "en-us")
			Expect(found).To(BeTrue())
			Expect(path).To(Equal(filepath.Join(dataDir, "keymaps/en-us")))

			_, found = control.GetQemuPath(protocol.FileTypeBIOS, "en-us")
			Expect(found).To(BeFalse())
		})

		It("takes a readable path as is", func() {
			path := filepath.Join(dataDir, "elsewhere", "vgabios.bin")
			touch(path)

			found, ok := control.GetQemuPath(protocol.FileTypeBIOS, path)
			Expect(ok).To(BeTrue())
			Expect(found).To(Equal(path))

			_, ok = control.GetQemuPath(protocol.FileTypeBIOS, filepath.Join(dataDir, "missing", "x"))
			Expect(ok).To(BeFalse())
		})

		It("finds nothing for an unknown type", func() {
			touch(filepath.Join(dataDir, "bios.bin"))

			_, found := control.GetQemuPath(7, "bios.bin")
			Expect(found).To(BeFalse())
		})
	})

	It("toggles the network and tells the modem", func() {
		Expect(control.IsNetworkDisabled()).To(BeFalse())

		control.ToggleNetwork()
		Expect(control.IsNetworkDisabled()).To(BeTrue())

		control.ToggleNetwork()
		Expect(control.IsNetworkDisabled()).To(BeFalse())

		Expect(registered).To(Equal([]bool{false, true}))
	})

	It("tracks pressed keys", func() {
		control.Keycode(30 | protocol.KeyDownBit)
		control.Keycode(48 | protocol.KeyDownBit)
		control.Keycode(30)

		Expect(control.Input().KeysDown).To(Equal(map[int]bool{48: true}))
	})

	It("answers hardware queries from the store", func() {
		speed, found := control.GetNetSpeed(0)
		Expect(found).To(BeTrue())
		Expect(speed).To(Equal(storage.DefaultNetSpeeds[0]))

		_, found = control.GetNetDelay(len(storage.DefaultNetDelays))
		Expect(found).To(BeFalse())

		Expect(control.GetLcdDensity()).To(Equal(storage.DefaultLcdDensity))
	})
})
