package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
subjects:
  - name: makecode
    asset_type: makecode
    course_number: "3"
    output_file: makecode-lessons.json
    sections:
      - name: "A.Mobile shooter"
        targets:
          - { title: "1.Cannonball shooting", id: "3757" }
          - { title: "2.Music fortress", id: "3759" }
      - name: "0.Basic course"
        targets:
          - { title: "1.Buzzer play music", id: "3751" }
wiring:
  - { build: "1.17", section: "5.3.1", lesson_id: "15636", sensors: [ultrasonic] }
courses:
  - { subject: makecode, build: "1.1", section: "3.A", name: "Mobile shooter" }
section_builds:
  "A.Mobile shooter": "1.1"
  "0.Basic course": ""
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSampleCatalog(t *testing.T) {
	t.Parallel()

	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	subject, ok := c.Subject("makecode")
	require.True(t, ok)
	assert.Equal(t, 3, subject.TargetCount())
	assert.Equal(t, "3.A", subject.CourseSection("A.Mobile shooter"))
	assert.Len(t, c.CoursesFor("makecode"), 1)
	assert.Empty(t, c.CoursesFor("python"))

	build, ok := c.BuildForSection("A.Mobile shooter")
	assert.True(t, ok)
	assert.Equal(t, "1.1", build)
	_, ok = c.BuildForSection("0.Basic course")
	assert.False(t, ok)
	_, ok = c.BuildForSection("Z.Unknown")
	assert.False(t, ok)
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, ErrMissing)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"MissingSubjects": `wiring: []`,
		"UnknownField":    "subjects: []\nbogus: true\n",
		"MissingTargetID": `
subjects:
  - name: python
    asset_type: python
    output_file: python.json
    sections:
      - name: "A.Mobile shooter"
        targets:
          - { title: "no id" }
`,
		"DuplicateID": `
subjects:
  - name: python
    asset_type: python
    output_file: python.json
    sections:
      - name: "A"
        targets:
          - { title: "one", id: "1" }
      - name: "B"
        targets:
          - { title: "again", id: "1" }
`,
		"CourseUnknownSubject": `
subjects:
  - name: python
    asset_type: python
    output_file: python.json
    sections:
      - name: "A"
        targets: []
courses:
  - { subject: makecode, build: "1.1", section: "3.A", name: "x" }
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestShippedCatalogLoads(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join("..", "..", "configs", "catalog.yaml"))
	require.NoError(t, err)

	for _, name := range []string{"makecode", "python", "sensors"} {
		s, ok := c.Subject(name)
		require.True(t, ok, name)
		assert.Positive(t, s.TargetCount(), name)
	}
	assert.Len(t, c.Assembly, 32)
	assert.NotEmpty(t, c.Wiring)
}

func TestSectionDisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Mobile shooter", SectionDisplayName("A.Mobile shooter"))
	assert.Equal(t, "principles", SectionDisplayName("principles"))
}
