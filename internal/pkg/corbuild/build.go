package corbuild

import (
	"archive/zip"
	"bytes"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// crossCompile builds the current directory as a Linux/amd64 binary
// suitable for an ember-worker FaaS deployment package. It returns the
// location of the built binary file.
func crossCompile(binName string) (string, error) {
	tmpDir, err := ioutil.TempDir("", "")
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(tmpDir, binName)

	args := []string{
		"build",
		"-o", outputPath,
		"-ldflags", "-s -w",
		".",
	}
	cmd := exec.Command("go", args...)

	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")

	combinedOut, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s\n%s", err, combinedOut)
	}

	return outputPath, nil
}

// BuildPackage builds the current directory's ember-worker binary and
// zips it into a deployment package, suitable for uploading to either AWS
// Lambda or an OpenWhisk action (the exec.env marker below is only
// meaningful to the latter; Lambda ignores it).
func BuildPackage(mainFnName string) ([]byte, error) {
	log.Info("Building ember-worker deployment package")
	binFile, err := crossCompile("ember_worker_artifact")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(binFile)) // Remove temporary binary file

	log.Debug("Opening recompiled binary to be zipped")
	binReader, err := os.Open(binFile)
	if err != nil {
		return nil, err
	}

	zipBuf := new(bytes.Buffer)
	archive := zip.NewWriter(zipBuf)
	header := &zip.FileHeader{
		Name:           mainFnName,
		ExternalAttrs:  (0777 << 16), // File permissions
		CreatorVersion: (3 << 8),     // Magic number indicating a Unix creator
	}

	log.Debug("Adding binary to zip archive")
	writer, err := archive.CreateHeader(header)
	if err != nil {
		return nil, err
	}

	_, err = io.Copy(writer, binReader)
	if err != nil {
		return nil, err
	}

	//In case we are building an openwhisk package...
	data := []byte("openwhisk/action-golang-v1.15\n")
	header = &zip.FileHeader{
		Name:               "exec.env",
		UncompressedSize64: uint64(len(data)),
		Method:             zip.Deflate,
	}

	writer, err = archive.CreateHeader(header)
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(writer, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	binReader.Close()
	archive.Close()

	log.Debugf("Final zipped function binary size: %s", humanize.Bytes(uint64(len(zipBuf.Bytes()))))
	data = zipBuf.Bytes()
	if log.IsLevelEnabled(log.DebugLevel) {
		f, err := ioutil.TempFile("", "")
		if err == nil {
			_, _ = f.Write(data)
			_ = f.Close()
			log.Debugf("deployment package at %s", f.Name())
		}
	}

	return data, nil
}

// InjectConfiguration copies the cluster settings a Lambda-hosted
// ember-worker can't otherwise discover (it starts with no "emberrc" file
// and no driver-supplied flags) into its function environment, the same
// role the teacher's MINIO_HOST/MINIO_USER/MINIO_KEY injection played for
// its backing object store.
func InjectConfiguration(env map[string]*string) {
	if host := viper.GetString("cluster.driver_external_host"); host != "" {
		env["EMBER_CLUSTER_DRIVER_EXTERNAL_HOST"] = &host
	}

	if port := viper.GetString("cluster.driver_external_port"); port != "" {
		env["EMBER_CLUSTER_DRIVER_EXTERNAL_PORT"] = &port
	}

	if slots := viper.GetString("cluster.worker_task_slots"); slots != "" {
		env["EMBER_CLUSTER_WORKER_TASK_SLOTS"] = &slots
	}
}
