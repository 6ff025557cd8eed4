package corbuild

import (
	"crypto/sha256"
	"encoding/base64"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
)

// CodeHash digests root's go.mod require/replace set plus every .go file
// under it, giving Deploy a cheap fingerprint of "what would get built"
// to log alongside a deployment — independent of corlambda's
// already-built-zip CodeSha256 comparison, which only catches changes
// once a build has already run.
func CodeHash(root string) (string, error) {
	path, err := filepath.Abs(root)
	log.Infof("hashing source tree %s", path)
	codeHash := sha256.New()

	data, err := ioutil.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", err
	}

	f, err := modfile.ParseLax(filepath.Join(root, "go.mod"), data, nil)
	if err != nil {
		return "", err
	}

	if f != nil {
		modules := make(map[module.Version]bool)
		for _, require := range f.Require {
			modules[require.Mod] = true
		}
		for _, replace := range f.Replace {
			delete(modules, replace.Old)
			modules[replace.New] = true
		}

		// map iteration order isn't guaranteed, so entries are sorted
		// before hashing to keep the digest stable across calls.
		versions := make([]string, 0, len(modules))
		for version := range modules {
			versions = append(versions, version.String())
		}
		sort.Strings(versions)
		for _, version := range versions {
			codeHash.Write([]byte(version))
		}
	}

	files := make(map[string]struct{})
	hashAllGoFiles(root, files)

	fnames := make([]string, 0, len(files))
	for fname := range files {
		fnames = append(fnames, fname)
	}
	sort.Strings(fnames)
	for _, fname := range fnames {
		data, err := ioutil.ReadFile(fname)
		if err != nil {
			return "", err
		}
		codeHash.Write(data)
	}

	codeHashDigest := base64.StdEncoding.EncodeToString(codeHash.Sum(nil))

	return codeHashDigest, err
}

func hashAllGoFiles(fname string, paths map[string]struct{}) {
	files, err := ioutil.ReadDir(fname)
	if err == nil {
		for _, file := range files {
			if file.IsDir() {
				hashAllGoFiles(filepath.Join(fname, file.Name()), paths)
			} else if strings.HasSuffix(file.Name(), ".go") {
				paths[filepath.Join(fname, file.Name())] = struct{}{}
			}
		}
	}
}