package model

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/gembaguard/pkg/errors"
)

// SaveModel はモデルをgob形式でファイルに保存する
//
// 一時ファイルに書き込んでから rename するため、途中で失敗しても既存のファイルは壊れない。
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler()
//	// ... 学習 ...
//	err := model.SaveModel(scaler, "artifacts/scaler.gob")
func SaveModel(model interface{}, filename string) error {
	return WriteFileAtomic(filename, func(w io.Writer) error {
		return SaveModelToWriter(model, w)
	})
}

// LoadModel はgob形式のファイルからモデルを読み込む
//
// ファイルが存在しない場合や壊れている場合は ArtifactError を返す。
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.NewArtifactError("open", filename, err)
	}
	defer file.Close()

	if err := LoadModelFromReader(model, file); err != nil {
		return errors.NewArtifactError("decode", filename, err)
	}
	return nil
}

// SaveModelToWriter はモデルをio.Writerにgob形式で書き出す
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// WriteFileAtomic は同じディレクトリの一時ファイルに write の内容を書き出し、
// 成功した場合のみ filename に rename する。
func WriteFileAtomic(filename string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewArtifactError("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return errors.NewArtifactError("create", filename, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return errors.NewArtifactError("write", filename, err)
	}
	if err = tmp.Sync(); err != nil {
		return errors.NewArtifactError("sync", filename, err)
	}
	if err = tmp.Close(); err != nil {
		return errors.NewArtifactError("close", filename, err)
	}
	if err = os.Rename(tmp.Name(), filename); err != nil {
		return errors.NewArtifactError("rename", filename, err)
	}
	return nil
}
