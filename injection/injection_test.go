// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package injection_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/orbit-tracing/injection"
	"go.opentelemetry.io/orbit-tracing/injection/injectiontest"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/modules"
)

var _ injection.Injector = &injectiontest.Target{}

const libPath = "/opt/orbit/liborbit.so"

func TestInject(t *testing.T) {
	target := injectiontest.NewTarget(42,
		modules.ModuleInfo{Path: "/usr/bin/game", Name: "game"})

	require.NoError(t, injection.Inject(context.Background(), target, libPath))
	assert.Equal(t, 1, target.LoadCount(libPath))

	mi, ok, err := injection.FindModule(target, "/elsewhere/liborbit.so")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, libPath, mi.Path)

	err = injection.Inject(context.Background(), target, libPath)
	require.ErrorIs(t, err, injection.ErrAlreadyLoaded)
	assert.Contains(t, err.Error(), "already loaded")
	assert.Equal(t, 1, target.LoadCount(libPath))

	mods, err := target.Modules()
	require.NoError(t, err)
	assert.Len(t, mods, 2)
}

func TestInjectFailure(t *testing.T) {
	target := injectiontest.NewTarget(42)
	target.LoadError = errors.New("dlopen failed")

	err := injection.Inject(context.Background(), target, libPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dlopen failed")
	_, ok, err := injection.FindModule(target, libPath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveSymbol(t *testing.T) {
	mi := modules.ModuleInfo{Path: libPath, Name: "liborbit.so"}
	target := injectiontest.NewTarget(42, mi)
	target.Symbols[libPath] = []modules.Symbol{
		{Name: "activator_set_enabled", Address: 0x7f0000001000},
		{Name: "activator_set_enabled_wine", Address: 0x7f0000002000},
	}

	addr, err := injection.ResolveSymbol(target, &mi, "activator_set_enabled")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7f0000001000), addr)

	_, err = injection.ResolveSymbol(target, &mi, "activator_set")
	require.ErrorIs(t, err, injection.ErrSymbolNotFound)
}

func TestRemoteAllocation(t *testing.T) {
	target := injectiontest.NewTarget(42)

	ra, err := injection.AllocateAndWrite(target, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, target.LiveAllocations())
	data, ok := target.ReadMemory(ra.Addr())
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
	buf := make([]byte, 3)
	require.NoError(t, target.Memory().Read(libpf.Address(ra.Addr()+2), buf))
	assert.Equal(t, []byte("llo"), buf)

	require.NoError(t, ra.Release())
	require.NoError(t, ra.Release())
	assert.Equal(t, 0, target.LiveAllocations())
}
