package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLanguage(t *testing.T) {
	assert.Equal(t, FallbackLanguage, ResolveLanguage(AutoDetect))
	assert.Equal(t, FallbackLanguage, ResolveLanguage("  "))
	assert.Equal(t, "Python", ResolveLanguage(" Python "))
}

func TestIsSupportedLanguage(t *testing.T) {
	assert.True(t, IsSupportedLanguage("python"))
	assert.True(t, IsSupportedLanguage(AutoDetect))
	assert.False(t, IsSupportedLanguage("COBOL"))
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, ".py", FileExtension("Python"))
	assert.Equal(t, ".cpp", FileExtension("C++"))
	assert.Equal(t, ".txt", FileExtension(FallbackLanguage))
}

func TestScriptRecordClone(t *testing.T) {
	orig := &ScriptRecord{ID: "a", History: []ChatTurn{{Role: RoleUser, Text: "hi"}}}
	c := orig.Clone()
	c.History = append(c.History[:0], ChatTurn{Role: RoleModel, Text: "changed"})

	assert.Equal(t, RoleUser, orig.History[0].Role)
	assert.Nil(t, (*ScriptRecord)(nil).Clone())
}

func TestLocalTimeJSON(t *testing.T) {
	orig := LocalTime(time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local))
	b, err := json.Marshal(orig)
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-06 07:08:09"`, string(b))

	var back LocalTime
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, time.Time(orig).Equal(time.Time(back)))
	assert.Equal(t, "2024-05-06 07:08:09", back.String())
}
