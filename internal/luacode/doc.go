// Copyright (C) 1994-2012 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package luacode describes compiled Lua 5.1 functions:
the virtual machine instruction set, function prototypes, and their constants.

Prototypes can be read from three encodings:

  - the JSON module tree produced by the bytecode distiller
    (see [*Prototype.UnmarshalJSONFrom]),
  - binary chunks written by luac 5.1
    (see [*Prototype.UnmarshalBinary]),
  - the CBOR encoding used by module caches
    (see [*Prototype.UnmarshalCBOR]).

[Decode] sniffs the encoding from the data.

# Provenance

The instruction layout and binary chunk format follow Lua 5.1.5,
specifically:

  - lopcodes.h
  - lobject.h (for Proto)
  - lundump.c

# Lua License

Copyright (C) 1994-2012 Lua.org, PUC-Rio.

Permission is hereby granted, free of charge, to any person obtaining
a copy of this software and associated documentation files (the
"Software"), to deal in the Software without restriction, including
without limitation the rights to use, copy, modify, merge, publish,
distribute, sublicense, and/or sell copies of the Software, and to
permit persons to whom the Software is furnished to do so, subject to
the following conditions:

The above copyright notice and this permission notice shall be
included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/
package luacode
