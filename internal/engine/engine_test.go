package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Obirvalger/lineup/internal/vars"
)

func TestDecodeDescriptor(t *testing.T) {
	desc, err := DecodeDescriptor("host")
	require.NoError(t, err)
	assert.Equal(t, "host", desc.Variant)

	desc, err = DecodeDescriptor(map[string]interface{}{
		"docker": map[string]interface{}{"image": "debian:bookworm", "mem": "1G"},
	})
	require.NoError(t, err)
	assert.Equal(t, "docker", desc.Variant)

	_, err = DecodeDescriptor("warp-drive")
	assert.Error(t, err)

	_, err = DecodeDescriptor(map[string]interface{}{
		"docker": map[string]interface{}{},
		"podman": map[string]interface{}{},
	})
	assert.Error(t, err)
}

func TestMaterializeDockerRendersFields(t *testing.T) {
	sc := vars.NewScope()
	sc.Set("tag", "bookworm")
	desc := &Descriptor{Variant: "docker", Fields: map[string]interface{}{
		"image": "debian:{{ tag }}",
		"mem":   "2G",
		"user":  "builder",
	}}
	eng, err := desc.Materialize(sc, nil)
	require.NoError(t, err)
	docker := eng.(*Docker)
	assert.Equal(t, "debian:bookworm", docker.Image)
	assert.Equal(t, "2G", docker.Memory)

	cmd := docker.ShellCmd("w1", "echo hi")
	assert.Equal(t, `"docker" "exec" "-i" "--user" "builder" "w1" "sh" "-c" "echo hi"`, cmd.String())
}

func TestMaterializeRequiresImage(t *testing.T) {
	for _, variant := range []string{"docker", "podman", "incus"} {
		desc := &Descriptor{Variant: variant, Fields: map[string]interface{}{}}
		_, err := desc.Materialize(vars.NewScope(), nil)
		assert.Error(t, err, variant)
	}
}

func TestMaterializeRejectsUnknownFields(t *testing.T) {
	desc := &Descriptor{Variant: "docker", Fields: map[string]interface{}{
		"image": "x", "wat": 1,
	}}
	_, err := desc.Materialize(vars.NewScope(), nil)
	assert.Error(t, err)
}

func TestSshCommandConstruction(t *testing.T) {
	desc := &Descriptor{Variant: "ssh", Fields: map[string]interface{}{
		"host": "example.org",
		"user": "deploy",
		"port": "2222",
		"key":  "/home/u/.ssh/id",
	}}
	eng, err := desc.Materialize(vars.NewScope(), nil)
	require.NoError(t, err)
	ssh := eng.(*Ssh)

	cmd := ssh.ShellCmd("w", "uptime")
	assert.Equal(t,
		`"ssh" "-o" "IdentitiesOnly=yes" "-i" "/home/u/.ssh/id" "-p" "2222" "deploy@example.org" "uptime"`,
		cmd.String())
}

func TestSshExecQuoted(t *testing.T) {
	desc := &Descriptor{Variant: "ssh", Fields: map[string]interface{}{"host": "h"}}
	eng, err := desc.Materialize(vars.NewScope(), nil)
	require.NoError(t, err)

	cmd := eng.ExecCmd("w", []string{"echo", "a b"})
	assert.Contains(t, cmd.String(), `echo 'a b'`)
}

func TestVmlNetDecoding(t *testing.T) {
	net, err := decodeVmlNet("user")
	require.NoError(t, err)
	assert.True(t, net.User)

	net, err = decodeVmlNet(map[string]interface{}{
		"tap": "tap0", "address": "10.0.0.2/24",
	})
	require.NoError(t, err)
	assert.Equal(t, "tap0", net.Tap)

	_, err = decodeVmlNet("bridge")
	assert.Error(t, err)
	_, err = decodeVmlNet(map[string]interface{}{"address": "10.0.0.2/24"})
	assert.Error(t, err)
}

func TestIncusReferencesSections(t *testing.T) {
	deps := &Deps{
		Storages: map[string]IncusStorage{"data": {Pool: "default", Path: "/mnt/data"}},
		Networks: map[string]IncusNetwork{"lan": {Device: "eth1"}},
	}
	desc := &Descriptor{Variant: "incus", Fields: map[string]interface{}{
		"image":    "alpine/3.20",
		"storages": []interface{}{"data"},
		"networks": []interface{}{"lan"},
	}}
	_, err := desc.Materialize(vars.NewScope(), deps)
	require.NoError(t, err)

	desc.Fields["storages"] = []interface{}{"missing"}
	_, err = desc.Materialize(vars.NewScope(), deps)
	assert.Error(t, err)
}

func TestBaseNameOverride(t *testing.T) {
	base := &Base{Name: "fixed"}
	assert.Equal(t, "fixed", base.n("whatever"))
	assert.Equal(t, "w", (&Base{}).n("w"))
}

func TestExistsActionParse(t *testing.T) {
	action, err := ParseExistsAction("")
	require.NoError(t, err)
	assert.Equal(t, ExistsIgnore, action)
	_, err = ParseExistsAction("explode")
	assert.Error(t, err)
}
