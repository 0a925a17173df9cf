package sdspi_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/aligator/sdlite/internal/cardsim"
	"github.com/aligator/sdlite/sdspi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock advances by one millisecond on every call, so timeouts expire
// without sleeping.
func stepClock() func() time.Time {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
}

func newCard(t *testing.T, typ sdspi.CardType, blocks uint32) (*sdspi.Card, *cardsim.Card) {
	t.Helper()
	sim := cardsim.New(typ, blocks)
	card := sdspi.NewCard(sdspi.WithClock(stepClock()))
	require.NoError(t, card.Init(sim, sim, sdspi.FullSpeed))
	return card, sim
}

func pattern(seed byte) []byte {
	b := make([]byte, sdspi.BlockSize)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestCard_Init(t *testing.T) {
	tests := []struct {
		name string
		typ  sdspi.CardType
	}{
		{name: "standard capacity v1", typ: sdspi.TypeSD1},
		{name: "standard capacity v2", typ: sdspi.TypeSD2},
		{name: "high capacity", typ: sdspi.TypeSDHC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card, sim := newCard(t, tt.typ, 4096)
			assert.Equal(t, tt.typ, card.Type())
			assert.Equal(t, sdspi.ErrorNone, card.ErrorCode())

			speeds := sim.Speeds()
			require.Len(t, speeds, 2)
			assert.Equal(t, sdspi.InitSpeed, speeds[0])
			assert.Equal(t, sdspi.FullSpeed, speeds[1])
		})
	}
}

func TestCard_InitTimeout(t *testing.T) {
	t.Run("no response to CMD0", func(t *testing.T) {
		sim := cardsim.New(sdspi.TypeSDHC, 4096)
		sim.SetUnresponsive(true)
		card := sdspi.NewCard(sdspi.WithClock(stepClock()))

		err := card.Init(sim, sim, sdspi.FullSpeed)
		assert.ErrorIs(t, err, sdspi.ErrTimeout)
		assert.Equal(t, sdspi.ErrorCMD0, card.ErrorCode())
		assert.Equal(t, sdspi.TypeUnknown, card.Type())
	})

	t.Run("card stays idle", func(t *testing.T) {
		sim := cardsim.New(sdspi.TypeSDHC, 4096)
		sim.SetInitPolls(1 << 30)
		card := sdspi.NewCard(sdspi.WithClock(stepClock()), sdspi.WithConfig(sdspi.Config{InitTimeout: 50 * time.Millisecond}))

		err := card.Init(sim, sim, sdspi.FullSpeed)
		assert.ErrorIs(t, err, sdspi.ErrTimeout)
		assert.Equal(t, sdspi.ErrorACMD41, card.ErrorCode())
	})
}

func TestCard_NotInitialized(t *testing.T) {
	card := sdspi.NewCard()
	assert.Equal(t, sdspi.ErrorInitNotCalled, card.ErrorCode())

	err := card.ReadBlock(0, make([]byte, sdspi.BlockSize))
	assert.ErrorIs(t, err, sdspi.ErrNotInitialized)

	err = card.WriteBlock(0, make([]byte, sdspi.BlockSize))
	assert.ErrorIs(t, err, sdspi.ErrNotInitialized)

	_, err = card.CardSize()
	assert.ErrorIs(t, err, sdspi.ErrNotInitialized)
}

func TestCard_SetSpeed(t *testing.T) {
	card, _ := newCard(t, sdspi.TypeSDHC, 4096)

	assert.NoError(t, card.SetSpeed(sdspi.HalfSpeed))

	err := card.SetSpeed(sdspi.MaxSpeedID + 1)
	assert.ErrorIs(t, err, sdspi.ErrUnsupported)
	assert.Equal(t, sdspi.ErrorSckRate, card.ErrorCode())
}

func TestCard_ReadWriteBlock(t *testing.T) {
	for _, typ := range []sdspi.CardType{sdspi.TypeSD1, sdspi.TypeSD2, sdspi.TypeSDHC} {
		t.Run(typ.String(), func(t *testing.T) {
			card, sim := newCard(t, typ, 4096)

			want := pattern(7)
			require.NoError(t, card.WriteBlock(1000, want))
			assert.Equal(t, want, sim.Block(1000))

			got := make([]byte, sdspi.BlockSize)
			require.NoError(t, card.ReadBlock(1000, got))
			assert.Equal(t, want, got)

			// Untouched blocks read as zero.
			require.NoError(t, card.ReadBlock(1001, got))
			assert.Equal(t, make([]byte, sdspi.BlockSize), got)
		})
	}
}

func TestCard_MultiBlock(t *testing.T) {
	card, sim := newCard(t, sdspi.TypeSD2, 4096)

	require.NoError(t, card.WriteStart(20, 3))
	for i := byte(0); i < 3; i++ {
		require.NoError(t, card.WriteData(pattern(i)))
	}
	require.NoError(t, card.WriteStop())

	for i := byte(0); i < 3; i++ {
		assert.Equal(t, pattern(i), sim.Block(20+uint32(i)))
	}

	sim.ResetCommands()
	require.NoError(t, card.ReadStart(20))
	got := make([]byte, sdspi.BlockSize)
	for i := byte(0); i < 3; i++ {
		require.NoError(t, card.ReadData(got))
		assert.Equal(t, pattern(i), got)
	}
	require.NoError(t, card.ReadStop())
	assert.Equal(t, []byte{18, 12}, sim.Commands())

	// The card is usable after the stop.
	require.NoError(t, card.ReadBlock(21, got))
	assert.Equal(t, pattern(1), got)
}

func TestCard_ReadErrors(t *testing.T) {
	t.Run("command rejected", func(t *testing.T) {
		card, sim := newCard(t, sdspi.TypeSDHC, 4096)
		sim.FailCommand(17, 0x20)

		err := card.ReadBlock(1, make([]byte, sdspi.BlockSize))
		assert.ErrorIs(t, err, sdspi.ErrCommand)
		assert.Equal(t, sdspi.ErrorCMD17, card.ErrorCode())
		assert.Equal(t, byte(0x20), card.ErrorData())

		var sdErr *sdspi.Error
		require.True(t, errors.As(err, &sdErr))
		assert.Equal(t, sdspi.ErrorCMD17, sdErr.Code)
	})

	t.Run("error token", func(t *testing.T) {
		card, sim := newCard(t, sdspi.TypeSDHC, 4096)
		sim.SetDataToken(0x01)

		err := card.ReadBlock(1, make([]byte, sdspi.BlockSize))
		assert.ErrorIs(t, err, sdspi.ErrData)
		assert.Equal(t, sdspi.ErrorRead, card.ErrorCode())
		assert.Equal(t, byte(0x01), card.ErrorData())
	})

	t.Run("out of range", func(t *testing.T) {
		card, _ := newCard(t, sdspi.TypeSDHC, 4096)

		err := card.ReadBlock(5000, make([]byte, sdspi.BlockSize))
		assert.ErrorIs(t, err, sdspi.ErrCommand)
	})

	t.Run("error code is sticky", func(t *testing.T) {
		card, sim := newCard(t, sdspi.TypeSDHC, 4096)
		sim.FailCommand(17, 0x20)
		assert.Error(t, card.ReadBlock(1, make([]byte, sdspi.BlockSize)))

		require.NoError(t, card.WriteBlock(1, pattern(1)))
		assert.Equal(t, sdspi.ErrorCMD17, card.ErrorCode())
	})
}

func TestCard_WriteErrors(t *testing.T) {
	t.Run("data rejected", func(t *testing.T) {
		card, sim := newCard(t, sdspi.TypeSDHC, 4096)
		sim.SetRejectWrites(true)

		err := card.WriteBlock(1, pattern(1))
		assert.ErrorIs(t, err, sdspi.ErrData)
		assert.Equal(t, sdspi.ErrorWrite, card.ErrorCode())
	})

	t.Run("programming timeout", func(t *testing.T) {
		card, sim := newCard(t, sdspi.TypeSDHC, 4096)
		sim.SetStayBusy(true)

		err := card.WriteBlock(1, pattern(1))
		assert.ErrorIs(t, err, sdspi.ErrTimeout)
		assert.Equal(t, sdspi.ErrorWriteTimeout, card.ErrorCode())
	})

	t.Run("programming error", func(t *testing.T) {
		card, sim := newCard(t, sdspi.TypeSDHC, 4096)
		sim.FailCommand(13, 0x08)

		err := card.WriteBlock(1, pattern(1))
		assert.ErrorIs(t, err, sdspi.ErrData)
		assert.Equal(t, sdspi.ErrorWriteProgramming, card.ErrorCode())
	})
}

func TestCard_Registers(t *testing.T) {
	tests := []struct {
		typ    sdspi.CardType
		blocks uint32
	}{
		{typ: sdspi.TypeSD1, blocks: 8192},
		{typ: sdspi.TypeSD2, blocks: 1 << 20},
		{typ: sdspi.TypeSDHC, blocks: 1 << 22},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			card, sim := newCard(t, tt.typ, tt.blocks)

			size, err := card.CardSize()
			require.NoError(t, err)
			assert.Equal(t, tt.blocks, size)

			cid, err := card.ReadCID()
			require.NoError(t, err)
			assert.Equal(t, sim.CID(), cid)
			assert.Equal(t, "SIMCD", cid.ProductName())
			assert.Equal(t, "SD", cid.OEMID())
			year, month := cid.ManufacturingDate()
			assert.Equal(t, 2021, year)
			assert.Equal(t, 10, month)
		})
	}
}

func TestCard_BadCSD(t *testing.T) {
	card, sim := newCard(t, sdspi.TypeSDHC, 4096)
	sim.SetCSD(sdspi.CSD{0xC0})

	_, err := card.CardSize()
	assert.ErrorIs(t, err, sdspi.ErrUnsupported)
	assert.Equal(t, sdspi.ErrorBadCSD, card.ErrorCode())
}

func TestCard_Erase(t *testing.T) {
	card, sim := newCard(t, sdspi.TypeSD2, 4096)
	for b := uint32(10); b < 14; b++ {
		sim.SetBlock(b, pattern(byte(b)))
	}

	require.NoError(t, card.Erase(11, 12))
	assert.Equal(t, pattern(10), sim.Block(10))
	assert.True(t, bytes.Equal(make([]byte, sdspi.BlockSize), sim.Block(11)))
	assert.True(t, bytes.Equal(make([]byte, sdspi.BlockSize), sim.Block(12)))
	assert.Equal(t, pattern(13), sim.Block(13))
}

func TestCard_EraseAlignment(t *testing.T) {
	card, sim := newCard(t, sdspi.TypeSDHC, 4096)

	// No single block erase, erase sectors of 16 blocks.
	csd := sdspi.CSD{0x40}
	csd[9] = 0x0F
	csd[10] = 0x07
	csd[11] = 0x80
	sim.SetCSD(csd)

	err := card.Erase(3, 20)
	assert.ErrorIs(t, err, sdspi.ErrUnsupported)
	assert.Equal(t, sdspi.ErrorEraseSingleBlock, card.ErrorCode())

	assert.NoError(t, card.Erase(16, 31))
}

func TestError_Error(t *testing.T) {
	err := &sdspi.Error{Code: sdspi.ErrorCMD17, Status: 0x20}
	assert.Contains(t, err.Error(), "CMD17")
	assert.False(t, errors.Is(err, sdspi.ErrTimeout))
	assert.True(t, errors.Is(err, sdspi.ErrCommand))
}
