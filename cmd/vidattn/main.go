// Command vidattn trains and runs the video action classifiers.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"gopkg.in/urfave/cli.v1"

	"github.com/gorgonia/vidattn"
	"github.com/gorgonia/vidattn/checkpoint"
	"github.com/gorgonia/vidattn/nets"
)

var prof interface{ Stop() }

func main() {
	app := cli.NewApp()
	app.Name = "vidattn"
	app.Usage = "attention gated recurrent action recognition in video"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "arch",
			Value: nets.Attention.String(),
			Usage: "network `architecture`: attention, flow, twostream or colorize",
		},
		cli.IntFlag{
			Name:  "classes",
			Value: 51,
			Usage: "number of action classes",
		},
		cli.IntFlag{
			Name:  "seq-len",
			Value: 25,
			Usage: "frames sampled per clip",
		},
		cli.IntFlag{
			Name:  "size",
			Value: 224,
			Usage: "edge of the square frames fed to the network",
		},
		cli.IntFlag{
			Name:  "batch",
			Value: 32,
			Usage: "clips per batch",
		},
		cli.IntFlag{
			Name:  "mem-size",
			Value: 512,
			Usage: "channels of the recurrent memory",
		},
		cli.BoolFlag{
			Name:  "no-attention",
			Usage: "feed the recurrent cell the plain feature maps",
		},
		cli.StringFlag{
			Name:  "profile",
			Usage: "write a `cpu` or `mem` profile into the working directory",
		},
	}
	app.Before = func(c *cli.Context) error {
		switch c.GlobalString("profile") {
		case "":
		case "cpu":
			prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
		case "mem":
			prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
		default:
			return errors.Errorf("unknown profile %q", c.GlobalString("profile"))
		}
		return nil
	}
	app.After = func(c *cli.Context) error {
		if prof != nil {
			prof.Stop()
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "classify",
			Usage: "Classify one clip with a trained network",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "model", Usage: "`file` written by train"},
				cli.StringFlag{Name: "frames", Usage: "`dir` of RGB frames"},
				cli.StringFlag{Name: "flow-x", Usage: "`dir` of horizontal flow frames"},
				cli.StringFlag{Name: "flow-y", Usage: "`dir` of vertical flow frames"},
			},
			Action: classify,
		},
		{
			Name:  "colorize",
			Usage: "Colorize the optical flow of a clip",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "model", Usage: "`file` of a colorize network written by train"},
				cli.StringFlag{Name: "rgb", Usage: "attention network checkpoint to start an untrained colorizer from"},
				cli.StringFlag{Name: "flow-x", Usage: "`dir` of horizontal flow frames"},
				cli.StringFlag{Name: "flow-y", Usage: "`dir` of vertical flow frames"},
				cli.StringFlag{Name: "dump", Usage: "`dir` to dump JPEG frames into"},
				cli.StringFlag{Name: "gif", Usage: "animated GIF `file` to write"},
			},
			Action: colorize,
		},
		{
			Name:  "train",
			Usage: "Train a network on a <class>/<clip>/{rgb,x,y} tree of frames",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "data", Usage: "training `dir`"},
				cli.StringFlag{Name: "test", Usage: "optional evaluation `dir`"},
				cli.StringFlag{Name: "out", Value: "vidattn.model", Usage: "`file` to save the network into"},
				cli.StringFlag{Name: "stats", Usage: "optional CSV `file` of per epoch results"},
				cli.StringFlag{Name: "rgb", Usage: "attention network checkpoint to warm start from"},
				cli.StringFlag{Name: "flow", Usage: "flow attention network checkpoint to warm start from"},
				cli.StringFlag{Name: "frame", Usage: "attention network checkpoint for the frame stream of twostream"},
				cli.IntFlag{Name: "epochs", Value: 10},
				cli.IntFlag{Name: "iters", Value: 1, Usage: "passes over the examples per epoch"},
				cli.IntFlag{Name: "max-examples", Usage: "clips trained on per epoch, 0 for all"},
				cli.Float64Flag{Name: "lr", Value: 1e-4, Usage: "learn rate"},
			},
			Action: train,
		},
		{
			Name:  "dot",
			Usage: "Print the architecture as a graphviz digraph",
			Action: func(c *cli.Context) error {
				arch, conf, err := config(c)
				if err != nil {
					return err
				}
				n := nets.New(arch, conf)
				if err = n.Init(); err != nil {
					return err
				}
				dot, err := nets.ToDot(n)
				if err != nil {
					return err
				}
				fmt.Println(dot)
				return nil
			},
		},
		{
			Name:      "inspect",
			Usage:     "List the parameters held by checkpoints",
			ArgsUsage: "FILE...",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "prefix", Usage: "only list names starting with `prefix`"},
			},
			Action: inspect,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func config(c *cli.Context) (nets.Arch, nets.Config, error) {
	arch, err := nets.ParseArch(c.GlobalString("arch"))
	if err != nil {
		return arch, nets.Config{}, err
	}
	conf := nets.DefaultConf(c.GlobalInt("classes"))
	conf.SeqLen = c.GlobalInt("seq-len")
	conf.Width = c.GlobalInt("size")
	conf.Height = c.GlobalInt("size")
	conf.BatchSize = c.GlobalInt("batch")
	conf.MemSize = c.GlobalInt("mem-size")
	conf.Attention = !c.GlobalBool("no-attention")
	if !conf.IsValid() {
		return arch, conf, errors.Errorf("invalid network config %+v", conf)
	}
	return arch, conf, nil
}

func required(c *cli.Context, names ...string) error {
	for _, name := range names {
		if c.String(name) == "" {
			return errors.Errorf("missing --%s", name)
		}
	}
	return nil
}

func classify(c *cli.Context) error {
	arch, conf, err := config(c)
	if err != nil {
		return err
	}
	if err = required(c, "model"); err != nil {
		return err
	}
	nn, err := vidattn.LoadNet(c.String("model"), arch, conf)
	if err != nil {
		return err
	}
	src := vidattn.Sources{Frames: c.String("frames"), FlowX: c.String("flow-x"), FlowY: c.String("flow-y")}
	ex, err := vidattn.LoadExample(src, 0, arch, conf, vidattn.DefaultTestTransform(conf.Width))
	if err != nil {
		return err
	}

	cl, err := vidattn.NewClassifier(nn, nil, 1)
	if err != nil {
		return err
	}
	defer cl.Close()
	class, probs, err := cl.Classify(ex)
	if err != nil {
		return err
	}
	fmt.Printf("class %d\n", class)
	for i, p := range probs {
		fmt.Printf("%4d %.4f\n", i, p)
	}
	return nil
}

func colorize(c *cli.Context) error {
	_, conf, err := config(c)
	if err != nil {
		return err
	}
	if err = required(c, "flow-x", "flow-y"); err != nil {
		return err
	}
	var nn *nets.Net
	if model := c.String("model"); model != "" {
		nn, err = vidattn.LoadNet(model, nets.Colorize, conf)
	} else {
		nn, err = nets.NewColorize(conf, c.String("rgb"))
	}
	if err != nil {
		return err
	}

	enc, err := outputs(c.String("dump"), c.String("gif"))
	if err != nil {
		return err
	}
	defer enc.Close()

	src := vidattn.Sources{FlowX: c.String("flow-x"), FlowY: c.String("flow-y")}
	ex, err := vidattn.LoadExample(src, 0, nets.Colorize, conf, vidattn.DefaultTestTransform(conf.Width))
	if err != nil {
		return err
	}
	cl, err := vidattn.NewClassifier(nn, enc, 1)
	if err != nil {
		return err
	}
	defer cl.Close()
	cl.Name = src.FlowX
	class, _, err := cl.Classify(ex)
	if err != nil {
		return err
	}
	fmt.Printf("class %d\n", class)
	return enc.Flush()
}

func train(c *cli.Context) error {
	arch, conf, err := config(c)
	if err != nil {
		return err
	}
	if err = required(c, "data"); err != nil {
		return err
	}
	conf.LearnRate = c.Float64("lr")

	var nn *nets.Net
	switch arch {
	case nets.Attention:
		nn, err = nets.NewAttention(conf, c.String("rgb"))
	case nets.FlowAttention:
		nn, err = nets.NewFlowAttention(conf, c.String("rgb"), c.String("flow"))
	case nets.TwoStream:
		nn, err = nets.NewTwoStream(conf, c.String("flow"), c.String("frame"))
	case nets.Colorize:
		nn, err = nets.NewColorize(conf, c.String("rgb"))
	}
	if err != nil {
		return err
	}

	vconf := vidattn.Config{
		Name:           c.String("data"),
		Arch:           arch,
		NNConf:         conf,
		MaxExamples:    c.Int("max-examples"),
		TrainTransform: vidattn.DefaultTrainTransform(conf.Width, nil),
		TestTransform:  vidattn.DefaultTestTransform(conf.Width),
	}
	classes, trainSet, err := vidattn.LoadExamples(c.String("data"), arch, conf, vconf.TrainTransform)
	if err != nil {
		return err
	}
	var testSet []vidattn.Example
	if dir := c.String("test"); dir != "" {
		testClasses, exs, err := vidattn.LoadExamples(dir, arch, conf, vconf.TestTransform)
		if err != nil {
			return err
		}
		if strings.Join(testClasses, ",") != strings.Join(classes, ",") {
			return errors.Errorf("%v and %v hold different classes", c.String("data"), dir)
		}
		testSet = exs
	}
	log.Printf("Loaded %d training and %d test clips of %d classes", len(trainSet), len(testSet), len(classes))

	l, err := vidattn.New(vconf, nn, classes)
	if err != nil {
		return err
	}
	if err = l.Learn(trainSet, testSet, c.Int("epochs"), c.Int("iters")); err != nil {
		return err
	}
	if stats := c.String("stats"); stats != "" {
		if err = l.Dump(stats); err != nil {
			return err
		}
	}
	return l.Save(c.String("out"))
}

func inspect(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("no checkpoint given")
	}
	s := make(checkpoint.State)
	for _, path := range c.Args() {
		loaded, err := checkpoint.Load(path)
		if err != nil {
			return err
		}
		s = s.Merge(loaded)
	}
	s = s.Filter(c.String("prefix"))
	for _, name := range s.Names() {
		fmt.Printf("%-60s %v\n", name, s[name].Shape())
	}
	return nil
}
