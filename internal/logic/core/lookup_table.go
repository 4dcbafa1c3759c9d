package core

import (
	"bytes"
	"sort"

	"jito-bundler-sol/internal/pkg/types"

	solTypes "github.com/blocto/solana-go-sdk/types"
)

// LookupTableSet 表示 lookup table 地址 -> 可压缩引用的地址列表。
// 同一次运行内只增不减，合并是幂等的。
type LookupTableSet map[types.Pubkey][]types.Pubkey

// Clone 浅拷贝 map，地址切片视为只读共享
func (s LookupTableSet) Clone() LookupTableSet {
	out := make(LookupTableSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge 返回 s 与 other 的并集，不修改入参。
// 已存在的 table 保留较长的地址列表（链上 lookup table 只会追加）。
func (s LookupTableSet) Merge(other LookupTableSet) LookupTableSet {
	out := s.Clone()
	for k, v := range other {
		if cur, ok := out[k]; ok && len(cur) >= len(v) {
			continue
		}
		out[k] = v
	}
	return out
}

// Keys 按字节序返回 table 地址，保证编码结果稳定
func (s LookupTableSet) Keys() []types.Pubkey {
	keys := make([]types.Pubkey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})
	return keys
}

// ToAccounts 转换为 SDK 编译 v0 消息所需的结构
func (s LookupTableSet) ToAccounts() []solTypes.AddressLookupTableAccount {
	if len(s) == 0 {
		return nil
	}
	keys := s.Keys()
	out := make([]solTypes.AddressLookupTableAccount, 0, len(keys))
	for _, k := range keys {
		out = append(out, solTypes.AddressLookupTableAccount{
			Key:       k.ToCommon(),
			Addresses: types.ToCommonList(s[k]),
		})
	}
	return out
}

// AddressCount 返回所有 table 的地址总数
func (s LookupTableSet) AddressCount() int {
	n := 0
	for _, v := range s {
		n += len(v)
	}
	return n
}
