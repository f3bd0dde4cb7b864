package pda

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testProgram(t *testing.T) Address {
	t.Helper()
	p, err := Parse("4oweKJAgekQk5WoixX6Uagk8SNTbpPZb6QhmYd9Vv6nW")
	require.NoError(t, err)
	return p
}

func TestDeriveDeterministic(t *testing.T) {
	program := testProgram(t)

	a1, b1 := Derive(program, []byte("machine"), []byte("AgroX-0"))
	a2, b2 := Derive(program, []byte("machine"), []byte("AgroX-0"))
	require.Equal(t, a1, a2)
	require.Equal(t, b1, b2)
}

func TestDeriveDistinctInputs(t *testing.T) {
	program := testProgram(t)

	a, _ := Derive(program, []byte("machine"), []byte("AgroX-0"))
	b, _ := Derive(program, []byte("machine"), []byte("AgroX-1"))
	require.NotEqual(t, a, b)

	// Seed boundaries matter: ("ab","c") must differ from ("a","bc").
	c, _ := Derive(program, []byte("ab"), []byte("c"))
	d, _ := Derive(program, []byte("a"), []byte("bc"))
	require.NotEqual(t, c, d)

	// Different program namespace, same seeds.
	other, _ := Derive(Address{1}, []byte("machine"), []byte("AgroX-0"))
	require.NotEqual(t, a, other)
}

func TestSeedRegistry(t *testing.T) {
	program := testProgram(t)
	seeds := DefaultSeeds()

	cluster, _ := seeds.Cluster(program)
	wantCluster, _ := Derive(program, []byte("cluster"))
	require.Equal(t, wantCluster, cluster)

	machine, _ := seeds.Machine(program, "AgroX-0")
	wantMachine, _ := Derive(program, []byte("machine"), []byte("AgroX-0"))
	require.Equal(t, wantMachine, machine)

	// Legacy deployments derive machine accounts under a different tag.
	legacy, _ := LegacySeeds().Machine(program, "AgroX-0")
	require.NotEqual(t, machine, legacy)

	data, _ := seeds.Data(program, "AgroX-0", "Tomato Plant")
	wantData, _ := Derive(program, []byte("data"), []byte("AgroX-0"), []byte("Tomato Plant"))
	require.Equal(t, wantData, data)
}

func TestAddressText(t *testing.T) {
	program := testProgram(t)

	s := program.String()
	back, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, program, back)

	_, err = Parse("not-base58-0OIl")
	require.Error(t, err)

	_, err = Parse("abc") // too short
	require.Error(t, err)

	require.True(t, Address{}.IsZero())
	require.False(t, program.IsZero())
}
