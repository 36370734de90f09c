// Package locspec implements code to parse a string into a specific
// location specification.
//
// Location spec examples:
//
// locStr ::= *<address> | [<module>!]<offset>[,<offset>...] | @<name>
// * *<address> is an absolute address in the target, for example *0x7ff6a0001000
// * <module>!<offsets> is a pointer path starting at the base of <module>,
// for example game.exe!0x10,0x1f4,0x8
// * <offsets> without a module starts at the default module (mainModule
// unless configured otherwise)
// * @<name> is a pointer path saved in the configuration file
package locspec
