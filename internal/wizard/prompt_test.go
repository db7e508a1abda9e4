package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/palpable/imager/internal/drives"
	"github.com/palpable/imager/internal/registry"
)

func TestDeviceOptions(t *testing.T) {
	t.Parallel()
	opts := deviceOptions([]registry.Device{kitchen, garage})

	assert.Len(t, opts, 2)
	assert.Equal(t, "Kitchen (online)", opts[0].Key)
	assert.Equal(t, "D7", opts[0].Value)
	assert.Equal(t, "Garage (unknown)", opts[1].Key)
}

func TestDriveOptions(t *testing.T) {
	t.Parallel()
	locked := drives.Drive{Device: "/dev/mmcblk0", Size: 32 << 30, Description: "SC32G", ReadOnly: true}
	opts := driveOptions([]drives.Drive{sdb, locked})

	assert.Len(t, opts, 3)
	assert.Equal(t, "Generic SD/MMC (7.0 GB • /dev/sdb)", opts[0].Key)
	assert.Equal(t, "/dev/sdb", opts[0].Value)
	assert.Equal(t, "SC32G (32.0 GB • /dev/mmcblk0) [read-only]", opts[1].Key)
	assert.Empty(t, opts[2].Value)
}

func TestValidateName(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateName("Living Room"))
	assert.Error(t, validateName("   "))
	assert.Error(t, validateName(string(make([]rune, 65))))
}
