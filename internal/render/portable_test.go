package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ecom-image-studio/internal/gateway"
)

func TestPortableCarriesPlanAcrossProcesses(t *testing.T) {
	p := newTestProject("u1")
	p.UpdateSettings(Settings{Credential: "user-key", AnalysisModel: gateway.DefaultAnalysisModel, ImageModel: gateway.ImageModelPro})
	global := &gateway.Image{Data: []byte{9}, MIMEType: "image/png"}
	own := &gateway.Image{Data: []byte{7}, MIMEType: "image/jpeg"}
	p.SetGlobalReference(global)
	require.NoError(t, p.SetCardReference("sb2", own))

	raw, err := json.Marshal(p.Portable())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "user-key", "credential must not be serialized")

	var pp Portable
	require.NoError(t, json.Unmarshal(raw, &pp))
	q := FromPortable(pp, "worker-key")

	assert.Equal(t, p.PromptIDs(), q.PromptIDs())
	assert.Equal(t, p.Constitution(), q.Constitution())
	assert.Equal(t, "worker-key", q.Settings().Credential)
	assert.Equal(t, gateway.ImageModelPro, q.Settings().ImageModel)

	assert.Equal(t, []byte{7}, q.ReferenceFor("sb2", nil).Data)
	assert.Equal(t, []byte{9}, q.ReferenceFor("sb1", nil).Data)
	assert.Equal(t, StatusIdle, q.Board().State("sb1").Status)
}

func TestPortableImageNil(t *testing.T) {
	assert.Nil(t, NewPortableImage(nil))
	assert.Nil(t, NewPortableImage(&gateway.Image{}))
	var pi *PortableImage
	assert.Nil(t, pi.Image())
}
