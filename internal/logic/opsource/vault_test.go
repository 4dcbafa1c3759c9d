package opsource

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"jito-bundler-sol/internal/config"
	"jito-bundler-sol/internal/consts"
	"jito-bundler-sol/internal/logic/txbuilder"
	"jito-bundler-sol/internal/pkg/types"

	solTypes "github.com/blocto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPubkey(seed byte) types.Pubkey {
	var p types.Pubkey
	for i := range p {
		p[i] = seed + byte(i)
	}
	return p
}

func TestAnchorDiscriminator(t *testing.T) {
	sum := sha256.Sum256([]byte("global:jup_swap"))
	assert.Equal(t, sum[:8], jupSwapDiscriminator[:])
}

func TestNewVaultWrapper(t *testing.T) {
	_, err := NewVaultWrapper(config.VaultConfig{Project: "bad"})
	assert.Error(t, err)

	w, err := NewVaultWrapper(config.VaultConfig{Project: testPubkey(1).String()})
	require.NoError(t, err)
	assert.Equal(t, consts.DelegateVaultProgram, w.program)
}

func TestVaultWrap(t *testing.T) {
	w, err := NewVaultWrapper(config.VaultConfig{Program: consts.DelegateVaultProgramStr, Project: testPubkey(1).String()})
	require.NoError(t, err)

	s := VaultSwap{
		Signer:     testPubkey(10),
		OrderID:    testPubkey(20),
		InputMint:  consts.USDCMint,
		OutputMint: consts.WSOLMint,
	}
	acc, err := w.Accounts(s)
	require.NoError(t, err)
	assert.False(t, acc.Manager.IsZero())
	assert.NotEqual(t, acc.OrderVault, acc.TokenVault)

	// 推导结果稳定
	again, err := w.Accounts(s)
	require.NoError(t, err)
	assert.Equal(t, acc, again)

	inputAta, err := txbuilder.FindAssociatedTokenAddress(acc.Manager, s.InputMint, types.Pubkey{})
	require.NoError(t, err)
	outputAta, err := txbuilder.FindAssociatedTokenAddress(acc.Manager, s.OutputMint, types.Pubkey{})
	require.NoError(t, err)
	other := testPubkey(50)

	swap := solTypes.Instruction{
		ProgramID: consts.JupiterProgram.ToCommon(),
		Data:      []byte{9, 8, 7},
		Accounts: []solTypes.AccountMeta{
			{PubKey: s.Signer.ToCommon(), IsSigner: true, IsWritable: true},
			{PubKey: inputAta.ToCommon(), IsWritable: true},
			{PubKey: outputAta.ToCommon(), IsWritable: true},
			{PubKey: other.ToCommon()},
		},
	}
	ix, err := w.Wrap(s, acc, swap)
	require.NoError(t, err)

	assert.Equal(t, consts.DelegateVaultProgram.ToCommon(), ix.ProgramID)
	require.Len(t, ix.Accounts, 10+4)
	assert.Equal(t, s.Signer.ToCommon(), ix.Accounts[0].PubKey)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.Equal(t, acc.Manager.ToCommon(), ix.Accounts[3].PubKey)
	assert.Equal(t, consts.TokenProgram.ToCommon(), ix.Accounts[6].PubKey)
	assert.Equal(t, consts.JupiterProgram.ToCommon(), ix.Accounts[8].PubKey)

	remaining := ix.Accounts[10:]
	assert.Equal(t, acc.Manager.ToCommon(), remaining[0].PubKey)
	assert.Equal(t, acc.OrderVault.ToCommon(), remaining[1].PubKey)
	assert.Equal(t, acc.TokenVault.ToCommon(), remaining[2].PubKey)
	assert.Equal(t, other.ToCommon(), remaining[3].PubKey)
	for _, m := range remaining {
		assert.False(t, m.IsSigner)
	}
	assert.True(t, remaining[0].IsWritable)
	assert.False(t, remaining[3].IsWritable)

	// discriminator + u32 长度 + 原始数据
	require.Len(t, ix.Data, 8+4+3)
	assert.Equal(t, jupSwapDiscriminator[:], ix.Data[:8])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(ix.Data[8:12]))
	assert.Equal(t, []byte{9, 8, 7}, ix.Data[12:])
}
