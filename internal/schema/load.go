package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// CompileString builds a catalog from CUE source. filename is used in
// error positions.
func CompileString(src, filename string) (*Catalog, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	docs, err := parseEntities(v)
	if err != nil {
		return nil, err
	}
	return build(docs)
}

// FromValue builds a catalog from an already compiled CUE value.
func FromValue(v cue.Value) (*Catalog, error) {
	docs, err := parseEntities(v)
	if err != nil {
		return nil, err
	}
	return build(docs)
}

// Load builds one catalog from several files or directories. Relations
// may cross documents; an entity declared in two documents is an error.
func Load(paths ...string) (*Catalog, error) {
	ctx := cuecontext.New()
	var all []entityDoc
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, &Error{Code: ErrCodeNoFiles, Message: err.Error()}
		}
		var v cue.Value
		if info.IsDir() {
			v, err = loadDir(ctx, p)
		} else {
			v, err = loadFile(ctx, p)
		}
		if err != nil {
			return nil, err
		}
		docs, err := parseEntities(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		all = append(all, docs...)
	}
	return build(all)
}

// LoadFile builds a catalog from one CUE file.
func LoadFile(path string) (*Catalog, error) {
	v, err := loadFile(cuecontext.New(), path)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

// LoadDir builds a catalog from the CUE package in dir.
func LoadDir(dir string) (*Catalog, error) {
	v, err := loadDir(cuecontext.New(), dir)
	if err != nil {
		return nil, err
	}
	return FromValue(v)
}

func loadFile(ctx *cue.Context, path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, &Error{Code: ErrCodeNoFiles, Message: err.Error()}
	}
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return cue.Value{}, cueError(err)
	}
	return v, nil
}

func loadDir(ctx *cue.Context, dir string) (cue.Value, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return cue.Value{}, &Error{Code: ErrCodeNoFiles, Message: err.Error()}
	}
	if len(files) == 0 {
		return cue.Value{}, &Error{Code: ErrCodeNoFiles, Message: "no CUE files in " + dir}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, &Error{Code: ErrCodeCUE, Message: "no CUE instances loaded from " + dir}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, cueError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, cueError(err)
	}
	return v, nil
}
