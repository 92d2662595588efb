package submit

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tags = []string{"clear", "haze", "primary"}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf,
		[]string{"/data/test/test_0.jpg", "test_1.jpg", "sub/file_7.tif"},
		[][]float32{
			{0.9, 0.1, 0.8},
			{0.2, 0.2, 0.2}, // equal to threshold: not tagged
			{0.1, 0.6, 0.0},
		},
		tags, []float32{0.2, 0.2, 0.2})
	require.NoError(t, err)

	assert.Equal(t, "image_name,tags\ntest_0,clear primary\ntest_1,\nfile_7,haze\n", buf.String())
}

func TestWrite_ShapeErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, []string{"a"}, nil, tags, []float32{0, 0, 0}), ErrShape)
	assert.ErrorIs(t, Write(&buf, nil, nil, tags, []float32{0}), ErrShape)
	assert.ErrorIs(t, Write(&buf, []string{"a"}, [][]float32{{1}}, tags, []float32{0, 0, 0}), ErrShape)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "submission.csv")
	require.NoError(t, WriteFile(path, []string{"x.png"}, [][]float32{{1, 1, 1}}, tags, []float32{0.5, 0.5, 0.5}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "image_name,tags\nx,clear haze primary\n", string(b))
}
