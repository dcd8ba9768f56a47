package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	humanize "github.com/dustin/go-humanize"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/msodump"
)

var (
	app   = kingpin.New("msodump", "Inspect compound files and VBA compressed streams.")
	debug = app.Flag("debug", "Trace parsing to stderr.").Bool()

	ls_command = app.Command("ls", "List directory entries.")
	ls_file    = ls_command.Arg("file", "File to load").Required().String()

	cat_command = app.Command("cat", "Write a stream to stdout.")
	cat_file    = cat_command.Arg("file", "File to load").Required().String()
	cat_stream  = cat_command.Arg("stream", "Stream name").Required().String()

	header_command = app.Command("header", "Dump the header and allocation tables as JSON.")
	header_file    = header_command.Arg("file", "File to load").Required().String()

	dir_command = app.Command("dir", "Dump directory entries and their chains as JSON.")
	dir_file    = dir_command.Arg("file", "File to load").Required().String()

	macros_command = app.Command("macros", "Extract VBA macros as JSON.")
	macros_file    = macros_command.Arg("file", "File to load").Required().String()

	compress_command = app.Command("compress", "Compress a file into <file>.compressed.")
	compress_file    = compress_command.Arg("file", "File to compress").Required().String()
	compress_offset  = compress_command.Arg("offset", "Offset to start at").Default("0").Int()

	decompress_command = app.Command("decompress", "Decompress stdin to stdout.")
	decompress_offset  = decompress_command.Flag("offset", "Offset of the compressed container").Default("0").Int()
)

func printJSON(value interface{}) {
	serialized, err := json.MarshalIndent(value, " ", " ")
	kingpin.FatalIfError(err, "JSON")

	fmt.Println(string(serialized))
}

func doLs() error {
	container, err := msodump.OpenFile(*ls_file)
	if err != nil {
		return err
	}

	header := container.Header()
	for _, entry := range container.Entries() {
		if entry.Type == msodump.EntryEmpty {
			continue
		}
		fmt.Printf("%4d %-12v %10s %-4v %s\n", entry.Index, entry.Type,
			humanize.Bytes(uint64(entry.Size)),
			header.StreamLocation(entry), entry.Name)
	}
	return nil
}

func doCat() error {
	container, err := msodump.OpenFile(*cat_file)
	if err != nil {
		return err
	}

	data, err := container.ReadStream(*cat_stream)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)
	return err
}

func doDescribe(filename string, entries bool) error {
	container, err := msodump.OpenFile(filename)
	if err != nil {
		return err
	}

	info := container.Describe()
	if entries {
		printJSON(info.Entries)
	} else {
		info.Entries = nil
		printJSON(info)
	}
	return nil
}

func doMacros() error {
	macros, err := msodump.ParseFile(*macros_file)
	if err != nil {
		return err
	}

	printJSON(macros)
	return nil
}

func doCompress() error {
	data, err := ioutil.ReadFile(*compress_file)
	if err != nil {
		return err
	}

	if *compress_offset < 0 || *compress_offset > len(data) {
		return fmt.Errorf("offset %d outside file of %s",
			*compress_offset, humanize.Bytes(uint64(len(data))))
	}

	return ioutil.WriteFile(*compress_file+".compressed",
		msodump.Compress(data[*compress_offset:]), 0644)
}

func doDecompress() error {
	data, err := ioutil.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	result, err := msodump.Decompress(data, *decompress_offset)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(result)
	return err
}

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate).DefaultEnvars()
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *debug {
		msodump.SetDebug(true)
	}

	var err error
	switch command {
	case ls_command.FullCommand():
		err = doLs()
	case cat_command.FullCommand():
		err = doCat()
	case header_command.FullCommand():
		err = doDescribe(*header_file, false)
	case dir_command.FullCommand():
		err = doDescribe(*dir_file, true)
	case macros_command.FullCommand():
		err = doMacros()
	case compress_command.FullCommand():
		err = doCompress()
	case decompress_command.FullCommand():
		err = doDecompress()
	}
	kingpin.FatalIfError(err, command)
}
