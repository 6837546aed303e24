package storage

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"mini-spark/internal/common"
	"mini-spark/internal/records"
)

// ReadCSVFiles streams each row of each file as a Record: two-or-more
// column rows become KV(col0, rest-joined-by-comma); single-column rows
// become Text(col0). emit is called once per record in file order; errors
// from emit abort the read.
func ReadCSVFiles(files []string, emit func(records.Record) error) error {
	for _, path := range files {
		if err := readOneCSV(path, emit); err != nil {
			return err
		}
	}
	return nil
}

func readOneCSV(path string, emit func(records.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return common.NewError(common.KindInputNotFound, err, "opening "+path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return common.NewError(common.KindReaderError, err, "malformed CSV row in "+path)
		}
		var rec records.Record
		if len(row) >= 2 {
			rec = records.KV(row[0], strings.Join(row[1:], ","))
		} else if len(row) == 1 {
			rec = records.Text(row[0])
		} else {
			continue
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

// ReadTextFiles streams each line of each file as a Text record.
func ReadTextFiles(files []string, emit func(records.Record) error) error {
	for _, path := range files {
		if err := readOneText(path, emit); err != nil {
			return err
		}
	}
	return nil
}

func readOneText(path string, emit func(records.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return common.NewError(common.KindInputNotFound, err, "opening "+path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := emit(records.Text(scanner.Text())); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return common.NewError(common.KindReaderError, err, "reading "+path)
	}
	return nil
}
