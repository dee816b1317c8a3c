package files_test

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"

	"github.com/root-talis/rensa/revision"
	"github.com/root-talis/rensa/source/files"
)

func file(content string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(content)}
}

const titlesRevision = `
id: "010"
parent: "000"
up:
  - add_column: {table: users, column: {name: active_title, type: "varchar(100)", nullable: true}}
  - add_column: {table: users, column: {name: purchased_titles, type: "varchar(1000)", default: "''"}}
down:
  - drop_column: {table: users, column: {name: purchased_titles}}
  - drop_column: {table: users, column: {name: active_title}}
`

const initialRevision = `
id: "000"
up:
  - create_table:
      table: users
      columns:
        - {name: id, type: integer, primary_key: true}
        - {name: telegram_id, type: bigint}
`

var getAvailableRevisionsTestTable = []struct { // nolint:gochecknoglobals
	name                    string
	expectErrorWhenCreating bool
	expectErrorWhenCalling  bool
	directory               string
	fs                      fstest.MapFS
	expectedIDs             []revision.ID
}{
	// -- success tests ------
	/* s0 */ {
		name:      "test s0: should list a single revision",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                           {Mode: fs.ModeDir},
			"revisions/R010_titles_and_shop.yaml": file(titlesRevision),
		},
		expectedIDs: []revision.ID{"010"},
	},
	/* s1 */ {
		name:      "test s1: should list all revisions",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                           {Mode: fs.ModeDir},
			"revisions/R000_initial_schema.yaml":  file(initialRevision),
			"revisions/R010_titles_and_shop.yaml": file(titlesRevision),
		},
		expectedIDs: []revision.ID{"000", "010"},
	},
	/* s2 */ {
		name:      "test s2: should list revisions in a non-standard directory",
		directory: "tmp/.Xs223xxSCa",
		fs: fstest.MapFS{
			"tmp/.Xs223xxSCa":                          {Mode: fs.ModeDir},
			"tmp/.Xs223xxSCa/R000_initial_schema.yaml": file(initialRevision),
		},
		expectedIDs: []revision.ID{"000"},
	},
	/* s3 */ {
		name:      "test s3: should skip files without the R prefix",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                          {Mode: fs.ModeDir},
			"revisions/010_titles_and_shop.yaml": file(titlesRevision),
			"revisions/R000_initial_schema.yaml": file(initialRevision),
		},
		expectedIDs: []revision.ID{"000"},
	},
	/* s4 */ {
		name:      "test s4: should skip files without an underscore after the id",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                          {Mode: fs.ModeDir},
			"revisions/R010titles.yaml":          file(titlesRevision),
			"revisions/R000_initial_schema.yaml": file(initialRevision),
		},
		expectedIDs: []revision.ID{"000"},
	},
	/* s5 */ {
		name:      "test s5: should skip files with a bad suffix",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                          {Mode: fs.ModeDir},
			"revisions/R010_titles.yml":          file(titlesRevision),
			"revisions/R010_titles.sql":          file(titlesRevision),
			"revisions/R010_titles":              file(titlesRevision),
			"revisions/R000_initial_schema.yaml": file(initialRevision),
		},
		expectedIDs: []revision.ID{"000"},
	},
	/* s6 */ {
		name:      "test s6: should not care about other directories",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                          {Mode: fs.ModeDir},
			"R010_titles_and_shop.yaml":          file(titlesRevision),
			"sibling/R010_titles_and_shop.yaml":  file(titlesRevision),
			"revisions/subdir/R010_titles.yaml":  file(titlesRevision),
			"revisions/R000_initial_schema.yaml": file(initialRevision),
		},
		expectedIDs: []revision.ID{"000"},
	},
	/* s7 */ {
		name:      "test s7: should skip directories with matching names",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                          {Mode: fs.ModeDir},
			"revisions/R010_titles.yaml":         {Mode: fs.ModeDir},
			"revisions/R000_initial_schema.yaml": file(initialRevision),
		},
		expectedIDs: []revision.ID{"000"},
	},

	// -- error tests --------
	/* e0 */ {
		name:      "test e0: should fail when directory does not exist",
		directory: "rensa",
		fs: fstest.MapFS{
			"revisions": {Mode: fs.ModeDir},
		},
		expectErrorWhenCreating: true,
	},
	/* e1 */ {
		name:      "test e1: should fail when directory is a file",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions": file(""),
		},
		expectErrorWhenCreating: true,
	},
	/* e2 */ {
		name:      "test e2: should fail on duplicate revision id",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                    {Mode: fs.ModeDir},
			"revisions/R010_titles.yaml":   file(titlesRevision),
			"revisions/R010_titles_2.yaml": file(titlesRevision),
		},
		expectErrorWhenCalling: true,
	},
	/* e3 */ {
		name:      "test e3: should fail on malformed yaml",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                  {Mode: fs.ModeDir},
			"revisions/R010_titles.yaml": file("up: [what"),
		},
		expectErrorWhenCalling: true,
	},
	/* e4 */ {
		name:      "test e4: should fail when the declared id does not match the file name",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                  {Mode: fs.ModeDir},
			"revisions/R011_titles.yaml": file(titlesRevision),
		},
		expectErrorWhenCalling: true,
	},
	/* e5 */ {
		name:      "test e5: should fail on an unknown op kind",
		directory: "revisions",
		fs: fstest.MapFS{
			"revisions":                  {Mode: fs.ModeDir},
			"revisions/R010_titles.yaml": file("id: \"010\"\nup:\n  - rename_column: {table: users}\n"),
		},
		expectErrorWhenCalling: true,
	},
}

func TestGetAvailableRevisions(t *testing.T) {
	t.Parallel()

	for _, test := range getAvailableRevisionsTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			src, err := files.NewFilesSource(test.fs, test.directory)

			if test.expectErrorWhenCreating {
				assert.Error(t, err)
				return
			} else if !assert.NoError(t, err) {
				return
			}

			revisions, err := src.GetAvailableRevisions()

			if test.expectErrorWhenCalling {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)

			if !assert.NotNil(t, revisions) {
				return
			}

			ids := make([]revision.ID, 0, len(*revisions))
			for _, rev := range *revisions {
				ids = append(ids, rev.ID)
			}
			assert.Equal(t, test.expectedIDs, ids)
		})
	}
}

func TestRevisionPayloadDecoding(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"revisions":                           {Mode: fs.ModeDir},
		"revisions/R010_titles_and_shop.yaml": file(titlesRevision),
	}

	src, err := files.NewFilesSource(fsys, "revisions")
	if !assert.NoError(t, err) {
		return
	}

	revisions, err := src.GetAvailableRevisions()
	if !assert.NoError(t, err) || !assert.Len(t, *revisions, 1) {
		return
	}

	rev := (*revisions)[0]
	assert.Equal(t, revision.ID("010"), rev.ID)
	assert.Equal(t, revision.ID("000"), rev.Parent)
	assert.Equal(t, "titles_and_shop", rev.Name) // from the file name
	assert.Len(t, rev.Up, 2)
	assert.Len(t, rev.Down, 2)
	assert.Equal(t, revision.AddColumn, rev.Up[0].Kind)
	assert.Equal(t, "active_title", rev.Up[0].Column.Name)
	assert.True(t, rev.Up[0].Column.Nullable)
	assert.NoError(t, rev.CheckUndo())
}
