package storage_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/emuconsole/storage"
)

var _ = Describe("LoadHardwareConfig()", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = ioutil.TempDir("", "hwconfig")
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	write := func(contents string) string {
		path := filepath.Join(dir, "hardware.toml")
		Expect(ioutil.WriteFile(path, []byte(contents), 0o644)).To(Succeed())
		return path
	}

	It("replaces only the tables present in the file", func() {
		store := storage.NewHardwareStore()
		defer store.Close()

		path := write(`
[hw]
lcd_density = 320

[[netspeed]]
name = "full"
display = "Full speed"
upload = 1000000
download = 1000000
`)

		Expect(storage.LoadHardwareConfig(context.Background(), path, store)).To(Succeed())

		Expect(store.LcdDensity()).To(Equal(320))

		speed, ok := store.NetSpeed(0)
		Expect(ok).To(BeTrue())
		Expect(speed.Name).To(Equal("full"))
		_, ok = store.NetSpeed(1)
		Expect(ok).To(BeFalse())

		delay, ok := store.NetDelay(0)
		Expect(ok).To(BeTrue())
		Expect(delay.Name).To(Equal("gprs"))
	})

	It("rejects unnamed entries", func() {
		store := storage.NewHardwareStore()
		defer store.Close()

		path := write(`
[[netdelay]]
display = "nothing"
`)
		Expect(storage.LoadHardwareConfig(context.Background(), path, store)).NotTo(Succeed())
	})

	It("leaves the store untouched when a later table is invalid", func() {
		store := storage.NewHardwareStore()
		defer store.Close()

		before, err := store.Backup()
		Expect(err).To(Succeed())

		path := write(`
[hw]
lcd_density = 480

[[netspeed]]
display = "no name"
upload = 1
download = 1
`)
		err = storage.LoadHardwareConfig(context.Background(), path, store)
		Expect(err).To(MatchError(ContainSubstring("netspeed 0 has no name")))

		Expect(store.LcdDensity()).To(Equal(storage.DefaultLcdDensity))
		after, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(after).To(Equal(before))
	})

	It("fails on a missing file", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		err := storage.LoadHardwareConfig(context.Background(), filepath.Join(dir, "nope.toml"), store)
		Expect(err).To(MatchError(ContainSubstring("load hardware config")))
	})
})
