package fs

import (
	"github.com/choraleia/shellfs/pkg/shell"
)

// listCmd prints one long-format row per entry with numeric ids, a
// classification suffix and a full, locale-independent timestamp.
const listCmd = "LC_ALL=C ls -lAnNF --time-style='+%b %d %H:%M:%S %Y'"

func listDirCommand(dir string) shell.Command {
	return shell.NewCommand("%s %s", listCmd, shell.Quote(dir))
}

func statCommand(p string) shell.Command {
	return shell.NewCommand("%s -d %s", listCmd, shell.Quote(p))
}

const intoDirMark = "into-dir"

// intoDirCommand prints intoDirMark when dst is an existing directory, which
// makes cp and mv place the source inside it.
func intoDirCommand(dst string) shell.Command {
	return shell.NewCommand("[ -d %s ] && echo %s", shell.Quote(dst), intoDirMark)
}

func copyCommand(src, dst string) shell.Command {
	return shell.NewCommand("cp -r %s %s", shell.Quote(src), shell.Quote(dst))
}

func moveCommand(src, dst string) shell.Command {
	return shell.NewCommand("mv -f %s %s", shell.Quote(src), shell.Quote(dst))
}

func removeCommand(p string) shell.Command {
	return shell.NewCommand("rm -rf %s", shell.Quote(p))
}

// createFileCommand fails when p already exists, then lists the new file.
func createFileCommand(p string) shell.Command {
	q := shell.Quote(p)
	return shell.NewCommand("[ ! -e %s ] && touch %s && %s -d %s", q, q, listCmd, q)
}

func mkdirCommand(p string, parents bool) shell.Command {
	q := shell.Quote(p)
	if parents {
		return shell.NewCommand("mkdir -p %s && %s -d %s", q, listCmd, q)
	}
	return shell.NewCommand("mkdir %s && %s -d %s", q, listCmd, q)
}

func chmodCommand(p string, perm Permissions) shell.Command {
	return shell.NewCommand("chmod %s %s", perm.Octal(), shell.Quote(p))
}

func fsTypeCommand(p string) shell.Command {
	return shell.NewCommand("stat -f -c %%T %s", shell.Quote(p))
}
